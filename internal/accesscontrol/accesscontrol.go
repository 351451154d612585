// Package accesscontrol validates URNs against a Store on the
// access-controlled surface (as opposed to the zero-knowledge lookup
// surface, which never reports AccessDenied/LayerNotFound — see
// spec §4.8).
package accesscontrol

import (
	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
	"github.com/dig-network/digstore/internal/urn"
)

// StoreQuerier is the minimal surface of Store that access control needs;
// defined here (rather than imported from the store package) to avoid a
// dependency cycle between store and accesscontrol.
type StoreQuerier interface {
	StoreID() dshash.StoreId
	HasCommit(root dshash.Hash) bool
	HasFileAtPath(path string, root *dshash.Hash) bool
}

// Controller validates URNs against one store.
type Controller struct {
	store StoreQuerier
}

// New builds a Controller bound to store.
func New(store StoreQuerier) *Controller {
	return &Controller{store: store}
}

// ValidateAccess checks store_id, then (if present) root_hash membership,
// then (if present) resource_path existence, per spec §4.8.
func (c *Controller) ValidateAccess(u urn.Urn) error {
	if u.StoreId != c.store.StoreID() {
		return &errs.AccessDenied{Reason: "store id does not match"}
	}
	if u.RootHash != nil && !c.store.HasCommit(*u.RootHash) {
		return &errs.AccessDenied{Reason: "root hash not found in history"}
	}
	if u.HasPath && !c.store.HasFileAtPath(u.ResourcePath, u.RootHash) {
		return &errs.AccessDenied{Reason: "resource path not found"}
	}
	return nil
}

// Operation names accepted by ValidateUrnCompleteness.
const (
	OpFileAccess      = "file_access"
	OpByteRangeAccess = "byte_range_access"
	OpLayerAccess     = "layer_access"
)

// ValidateUrnCompleteness enforces the required-component rules of
// spec §4.8 for a named operation.
func ValidateUrnCompleteness(u urn.Urn, operation string) error {
	switch operation {
	case OpFileAccess:
		if !u.HasPath {
			return &errs.MissingUrnComponent{Name: "resource_path"}
		}
		if u.RootHash == nil {
			return &errs.MissingUrnComponent{Name: "root_hash"}
		}
	case OpByteRangeAccess:
		if !u.HasPath {
			return &errs.MissingUrnComponent{Name: "resource_path"}
		}
		if u.ByteRange == nil {
			return &errs.MissingUrnComponent{Name: "byte_range"}
		}
		if u.RootHash == nil {
			return &errs.MissingUrnComponent{Name: "root_hash"}
		}
	case OpLayerAccess:
		if u.RootHash == nil {
			return &errs.MissingUrnComponent{Name: "root_hash"}
		}
	}
	return nil
}

// CreateAccessURN builds a URN scoped to storeId for a given root/path/
// range, the canonical way callers construct a URN to pass back into
// ValidateAccess.
func CreateAccessURN(storeId dshash.StoreId, root *dshash.Hash, resourcePath string, hasPath bool, byteRange *urn.ByteRange) urn.Urn {
	u := urn.Urn{StoreId: storeId, RootHash: root, ResourcePath: resourcePath, HasPath: hasPath}
	if byteRange != nil {
		u = u.WithByteRange(*byteRange)
	}
	return u
}
