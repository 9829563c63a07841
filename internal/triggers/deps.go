package triggers

import (
	"context"
	"time"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
)

// IdentityMinter issues uuid/public-id pairs for new entities and activities.
type IdentityMinter interface {
	CreateIDs(ctx context.Context, class string, parentIDs []string, count int) ([]domain.MintedID, error)
}

// GroupDirectory lists the authorization groups known to the system.
type GroupDirectory interface {
	Groups(ctx context.Context) ([]domain.Group, error)
}

// FileService commits uploaded temporary files and removes committed ones.
type FileService interface {
	Commit(ctx context.Context, token, tempFileID, entityUUID string) (domain.FileInfo, error)
	Remove(ctx context.Context, token, entityUUID string, fileUUIDs []string) error
}

// Ontology resolves controlled vocabulary codes.
type Ontology interface {
	OrganName(code string) (string, bool)
}

// Deps are the collaborators available to every builtin trigger. A Deps value
// is built once at startup and shared by concurrent requests.
type Deps struct {
	Catalog  *schema.Catalog
	Codec    schema.Codec
	Store    repository.GraphStore
	Minter   IdentityMinter
	Groups   GroupDirectory
	Files    FileService
	Ontology Ontology
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// decode returns stored list/json_string values in their native form. Values
// that are not strings, or fail to decode, are returned unchanged.
func (d *Deps) decode(value any) any {
	s, ok := value.(string)
	if !ok || s == "" || d.Codec == nil {
		return value
	}
	decoded, err := d.Codec.Decode(s)
	if err != nil {
		return value
	}
	return decoded
}

// publicView reduces a stored record to its exposed, stored properties with
// encoded values decoded. It is used for related entities embedded in a
// response, which are not themselves run through on_read triggers.
func (d *Deps) publicView(rec domain.Record) domain.Record {
	props, err := d.Catalog.EffectiveProperties(rec.EntityType())
	if err != nil {
		return rec.Clone()
	}
	out := make(domain.Record, len(rec))
	for key, value := range rec {
		rule, ok := props.Get(key)
		if !ok || !rule.Exposed || rule.IsTriggerBacked() {
			continue
		}
		if rule.IsEncoded() {
			value = d.decode(value)
		}
		out[key] = value
	}
	return out
}

func (d *Deps) publicViews(records []domain.Record) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any(d.publicView(rec)))
	}
	return out
}

// Call is the input of a single trigger invocation.
type Call struct {
	Deps     *Deps
	Executor *Executor
	Phase    domain.Phase
	Class    string
	Property string
	Trigger  string
	Request  *domain.RequestContext
	Existing domain.Record
	New      domain.Record
	// Generated is the accumulator as left by the triggers that already ran in
	// this pass. Value and effect triggers must treat it as read-only.
	Generated domain.Record
}

// Value returns the caller-supplied value of the property being processed.
func (c *Call) Value() any {
	return c.New[c.Property]
}

// Merged overlays new and generated data on the existing record.
func (c *Call) Merged() domain.Record {
	return domain.Merge(c.Existing, c.New, c.Generated)
}

// EntityUUID returns the uuid of the entity being processed, wherever it is
// currently known.
func (c *Call) EntityUUID() string {
	for _, rec := range []domain.Record{c.Generated, c.New, c.Existing} {
		if id := rec.UUID(); id != "" {
			return id
		}
	}
	return ""
}

// BulkCall is the input of a bulk on-read trigger.
type BulkCall struct {
	Deps     *Deps
	Request  *domain.RequestContext
	Property string
	Trigger  string
	// Targets are the registered entity records, in registration order.
	Targets []domain.Record
}
