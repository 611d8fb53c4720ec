// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the kernel node.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "jigkernel.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Known peers table
	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT,
		first_seen INTEGER,
		last_seen INTEGER,
		last_connected INTEGER,
		connection_count INTEGER DEFAULT 0,
		is_bootstrap INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Wallet UTXO Tracking (for multi-address spending)
	-- =========================================================================

	-- Wallet addresses table (tracks all derived addresses)
	CREATE TABLE IF NOT EXISTS wallet_addresses (
		address TEXT PRIMARY KEY,
		chain TEXT NOT NULL,

		-- Derivation path components (BIP44: m/purpose'/coin'/account'/change/index)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		-- Address type (p2wpkh, p2tr, p2pkh)
		address_type TEXT NOT NULL DEFAULT 'p2wpkh',

		-- Usage tracking
		tx_count INTEGER DEFAULT 0,
		total_received INTEGER DEFAULT 0,
		total_sent INTEGER DEFAULT 0,

		-- Timestamps
		created_at INTEGER NOT NULL,
		first_seen_at INTEGER,
		last_seen_at INTEGER,

		UNIQUE(chain, account, change, address_index)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_chain ON wallet_addresses(chain);
	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_path ON wallet_addresses(account, change, address_index);

	-- UTXOs table (all unspent outputs across all addresses)
	CREATE TABLE IF NOT EXISTS wallet_utxos (
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,

		-- Amount in smallest units (satoshis, litoshis, etc.)
		amount INTEGER NOT NULL,

		-- Which address owns this UTXO
		address TEXT NOT NULL,
		chain TEXT NOT NULL,

		-- Derivation path (for key derivation during signing)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		-- Script info
		script_pubkey TEXT,
		address_type TEXT NOT NULL DEFAULT 'p2wpkh',

		-- Status: 'unconfirmed', 'confirmed', 'pending_spend', 'spent'
		status TEXT NOT NULL DEFAULT 'unconfirmed',

		-- Confirmation tracking
		block_height INTEGER,
		block_hash TEXT,
		confirmations INTEGER DEFAULT 0,

		-- Spending info (if spent)
		spent_txid TEXT,
		spent_at INTEGER,

		-- Timestamps
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		PRIMARY KEY (txid, vout),
		FOREIGN KEY (address) REFERENCES wallet_addresses(address)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_address ON wallet_utxos(address);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_chain ON wallet_utxos(chain);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_status ON wallet_utxos(status);
	CREATE INDEX IF NOT EXISTS idx_wallet_utxos_chain_status ON wallet_utxos(chain, status);

	-- Wallet sync state (tracks sync progress per chain)
	CREATE TABLE IF NOT EXISTS wallet_sync_state (
		chain TEXT PRIMARY KEY,

		-- Last scanned indices (gap limit tracking)
		last_external_index INTEGER DEFAULT 0,
		last_change_index INTEGER DEFAULT 0,

		-- Gap limit used
		gap_limit INTEGER DEFAULT 20,

		-- Sync status
		last_sync_at INTEGER,
		last_block_height INTEGER,
		sync_status TEXT DEFAULT 'pending'
	);

	-- =========================================================================
	-- P2P Message Queue (for reliable direct messaging)
	-- =========================================================================

	-- Outbound message queue (pending delivery with retry)
	CREATE TABLE IF NOT EXISTS message_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,      -- UUID for deduplication
		trade_id TEXT NOT NULL,               -- Correlates request/response pair (ref id)
		peer_id TEXT NOT NULL,                -- Target peer
		message_type TEXT NOT NULL,           -- replay_request, sync_request, etc.
		payload BLOB NOT NULL,                -- Full message JSON
		sequence_num INTEGER NOT NULL,        -- Per-trade sequence number

		-- Delivery deadline (for retry decision)
		swap_timeout INTEGER NOT NULL,        -- Unix timestamp after which delivery stops retrying

		-- Retry tracking
		created_at INTEGER NOT NULL,          -- When message was queued
		retry_count INTEGER DEFAULT 0,        -- Number of send attempts
		last_attempt_at INTEGER,              -- Last send attempt timestamp
		next_retry_at INTEGER NOT NULL,       -- When to retry next

		-- Delivery status
		acked_at INTEGER,                     -- When ACK received (NULL until ACKed)
		status TEXT DEFAULT 'pending',        -- pending, sent, acked, failed, expired
		error_message TEXT                    -- Error if failed
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON message_outbox(status, next_retry_at)
		WHERE status = 'pending' OR status = 'sent';
	CREATE INDEX IF NOT EXISTS idx_outbox_trade ON message_outbox(trade_id);
	CREATE INDEX IF NOT EXISTS idx_outbox_peer ON message_outbox(peer_id, status);
	CREATE INDEX IF NOT EXISTS idx_outbox_message ON message_outbox(message_id);

	-- Inbound message log (for deduplication/idempotency)
	CREATE TABLE IF NOT EXISTS message_inbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,      -- UUID from sender (for dedup)
		trade_id TEXT NOT NULL,               -- Correlates request/response pair (ref id)
		peer_id TEXT NOT NULL,                -- Sender peer ID
		message_type TEXT NOT NULL,           -- Message type
		sequence_num INTEGER NOT NULL,        -- Sequence number from sender

		-- Processing status
		received_at INTEGER NOT NULL,         -- When received
		processed_at INTEGER,                 -- When handler completed (NULL until done)
		ack_sent INTEGER DEFAULT 0            -- Whether ACK was sent
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_message ON message_inbox(message_id);
	CREATE INDEX IF NOT EXISTS idx_inbox_trade ON message_inbox(trade_id, sequence_num);
	CREATE INDEX IF NOT EXISTS idx_inbox_peer ON message_inbox(peer_id);

	-- Sequence number tracking per trade (for ordering)
	CREATE TABLE IF NOT EXISTS message_sequences (
		trade_id TEXT PRIMARY KEY,
		local_seq INTEGER DEFAULT 0,          -- Our next outbound sequence number
		remote_seq INTEGER DEFAULT 0,         -- Last received inbound sequence number
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(kernelSchema); err != nil {
		return err
	}

	// Run migrations for existing databases
	return s.runMigrations()
}

// runMigrations is the hook for schema migrations of existing databases.
// It currently has no statements to run and always returns nil.
func (s *Storage) runMigrations() error {
	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
