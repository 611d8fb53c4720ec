package kernel

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/jigkernel/internal/creation"
)

// GetCreation loads one creation's fully-bound state by location, without
// walking its spend chain (use SyncJig first if the caller needs the
// latest state rather than whatever was last persisted at that location).
func (k *Kernel) GetCreation(ctx context.Context, location string) (*creation.Creation, error) {
	c, err := k.loader.Load(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("kernel: get creation: %w", err)
	}
	return c, nil
}

// ClassByLocation is a convenience wrapper RPC handlers use to resolve a
// "deploy this jig against an already-published class" request: it loads
// the class creation and ensures handleFor has a VTable ready for it before
// returning, so a subsequent New never fails on an unregistered class.
func (k *Kernel) ClassByLocation(ctx context.Context, location string) (*creation.Creation, error) {
	class, err := k.GetCreation(ctx, location)
	if err != nil {
		return nil, err
	}
	if class.Kind != creation.KindCode {
		return nil, fmt.Errorf("kernel: %s is not a class", location)
	}
	if _, err := k.handleFor(class); err != nil {
		return nil, err
	}
	return class, nil
}
