// Package linkfile implements the small project-local link file that
// binds a project directory to its globally-stored archive (spec §6.1).
//
// The canonical name is ".digstore" — the Open Question over
// ".digstore" vs ".layerstore" in original_source is resolved to a
// single consistent name (SPEC_FULL.md §4 item 2). The format is a
// simple key=value text format, not TOML: spec §6.1 calls for something
// simpler than a full config-file format for this single narrow use, and
// no example in the corpus offers a clean, central TOML dependency for
// it (see DESIGN.md).
package linkfile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dig-network/digstore/internal/dshash"
	"github.com/dig-network/digstore/internal/errs"
)

// FileName is the canonical project-local link file name.
const FileName = ".digstore"

// FormatVersion is the only version this engine accepts.
const FormatVersion = "1.0.0"

// LinkFile is the parsed contents of a project link file. Unknown keys
// are preserved in Extra so callers can round-trip files written by
// other tools.
type LinkFile struct {
	Version        string
	StoreId        string
	Encrypted      bool
	CreatedAt      string
	LastAccessed   string
	RepositoryName string
	Extra          map[string]string
}

// New builds a fresh link file for storeId.
func New(storeId dshash.StoreId, repositoryName string) LinkFile {
	now := time.Now().UTC().Format(time.RFC3339)
	return LinkFile{
		Version:        FormatVersion,
		StoreId:        storeId.Hex(),
		Encrypted:      false,
		CreatedAt:      now,
		LastAccessed:   now,
		RepositoryName: repositoryName,
		Extra:          map[string]string{},
	}
}

// UpdateLastAccessed refreshes the LastAccessed timestamp.
func (l *LinkFile) UpdateLastAccessed() {
	l.LastAccessed = time.Now().UTC().Format(time.RFC3339)
}

// StoreHash parses StoreId as a dshash.Hash.
func (l LinkFile) StoreHash() (dshash.Hash, error) {
	h, err := dshash.FromHex(l.StoreId)
	if err != nil {
		return dshash.Hash{}, &errs.InvalidStoreId{Reason: fmt.Sprintf("invalid store id in link file: %s", l.StoreId)}
	}
	return h, nil
}

// IsValid checks the engine's validation contract: version must be
// exactly FormatVersion, store_id must be 64 hex chars, and encrypted
// must be false (this engine's link file never claims encryption).
func (l LinkFile) IsValid() bool {
	if l.Version != FormatVersion || len(l.StoreId) != 64 || l.Encrypted {
		return false
	}
	_, err := dshash.FromHex(l.StoreId)
	return err == nil
}

// Save writes l to path as key=value text, atomically via tmp+rename.
func (l LinkFile) Save(path string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "version = %q\n", l.Version)
	fmt.Fprintf(&sb, "store_id = %q\n", l.StoreId)
	fmt.Fprintf(&sb, "encrypted = %v\n", l.Encrypted)
	fmt.Fprintf(&sb, "created_at = %q\n", l.CreatedAt)
	fmt.Fprintf(&sb, "last_accessed = %q\n", l.LastAccessed)
	if l.RepositoryName != "" {
		fmt.Fprintf(&sb, "repository_name = %q\n", l.RepositoryName)
	}
	for k, v := range l.Extra {
		fmt.Fprintf(&sb, "%s = %q\n", k, v)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads and parses path, validating version and store ID format.
func Load(path string) (LinkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LinkFile{}, err
	}

	l := LinkFile{Extra: map[string]string{}}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"`)

		switch key {
		case "version":
			l.Version = val
		case "store_id":
			l.StoreId = val
		case "encrypted":
			l.Encrypted = val == "true"
		case "created_at":
			l.CreatedAt = val
		case "last_accessed":
			l.LastAccessed = val
		case "repository_name":
			l.RepositoryName = val
		default:
			l.Extra[key] = val
		}
	}

	if l.Version != FormatVersion {
		return LinkFile{}, &errs.InvalidFormat{Where: "link file", Reason: fmt.Sprintf("unsupported version: %s", l.Version)}
	}
	if len(l.StoreId) != 64 {
		return LinkFile{}, &errs.InvalidStoreId{Reason: fmt.Sprintf("store id must be 64 hex characters, got %d", len(l.StoreId))}
	}
	return l, nil
}
