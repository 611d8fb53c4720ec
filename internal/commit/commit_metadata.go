package commit

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/action"
)

// Metadata is the publish-step-9 object: {app, version, base, vrun, in, ref,
// out, del, cre, exec}. The OP_RETURN push carries only the last six fields
// (spec.md §6: "app, version, vrun, and base are stripped, carried
// elsewhere"); the full struct is kept together here since replay's
// deterministic-JSON comparison (spec.md §4.10 step 8) needs both forms.
type Metadata struct {
	App     string
	Version byte
	Base    int
	Vrun    int

	In   int      // input count
	Ref  []string // pre-state location of every ref, insertion order
	Out  []string // state hash of every output, master-list order
	Del  []string // state hash of every delete, master-list order
	Cre  []string // hex-encoded locking script of every newly created owner
	Exec []action.Exec
}

// BuildMetadata is publish step 9.
func (c *Commit) BuildMetadata() error {
	refs := c.Rec.Refs()
	ref := make([]string, len(refs))
	for i, r := range refs {
		ref[i] = r.Location
	}

	outputs := c.Rec.Outputs()
	out := make([]string, len(outputs))
	for i, o := range outputs {
		hash, ok := c.StateHashes[o]
		if !ok {
			return fmt.Errorf("commit: output %s has no state hash, run HashStates first", o)
		}
		out[i] = hash
	}

	deletes := c.Rec.Deletes()
	del := make([]string, len(deletes))
	for i, d := range deletes {
		hash, ok := c.StateHashes[d]
		if !ok {
			return fmt.Errorf("commit: delete %s has no state hash, run HashStates first", d)
		}
		del[i] = hash
	}

	creates := c.Rec.Creates()
	cre := make([]string, len(creates))
	for i, created := range creates {
		if script, ok := c.OutputScripts[created]; ok {
			cre[i] = hex.EncodeToString(script)
			continue
		}
		// Created-and-destroyed within the same transaction: no output
		// script was generated, so fall back to the owner's domain tag
		// (the locking script would only ever have committed satoshis to
		// an immediately-destroyed creation, so replay never spends it).
		owner, ok := c.InitialOwners[created]
		if !ok {
			return fmt.Errorf("commit: created %s has no assigned owner, run AssignOwners first", created)
		}
		cre[i] = hex.EncodeToString(owner.Domain())
	}

	c.Metadata = &Metadata{
		App:     c.App,
		Version: ProtocolVersion,
		Base:    c.BaseOut,
		Vrun:    c.Vrun,
		In:      len(c.Rec.Inputs()),
		Ref:     ref,
		Out:     out,
		Del:     del,
		Cre:     cre,
		Exec:    c.ExecList,
	}
	return nil
}

// coreJSON renders exactly {in, ref, out, del, cre, exec}, in that order —
// the shape that goes inside the OP_RETURN push and the shape replay's
// deterministic-JSON comparison runs over (spec.md §6: "app, version, vrun,
// and base are stripped, carried elsewhere").
func (m *Metadata) coreJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fields := []struct {
		key string
		val any
	}{
		{"in", m.In},
		{"ref", m.Ref},
		{"out", m.Out},
		{"del", m.Del},
		{"cre", m.Cre},
		{"exec", m.Exec},
	}
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.val)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the full object with {app, version, base, vrun} ahead
// of the core six fields, matching spec.md §4.9 step 9's field list.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	core, err := m.coreJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	head := []struct {
		key string
		val any
	}{
		{"app", m.App},
		{"version", m.Version},
		{"base", m.Base},
		{"vrun", m.Vrun},
	}
	for _, f := range head {
		kb, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.val)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		buf.WriteByte(',')
	}
	// core is itself a complete "{...}" object; splice its fields in after
	// the head fields rather than nesting it.
	buf.Write(core[1:])
	return buf.Bytes(), nil
}
