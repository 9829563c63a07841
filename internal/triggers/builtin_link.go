package triggers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

func linkToDirectAncestor(ctx context.Context, call *Call) error {
	return linkViaActivity(ctx, call, false)
}

func linkToDirectAncestors(ctx context.Context, call *Call) error {
	return linkViaActivity(ctx, call, false)
}

func relinkToDirectAncestor(ctx context.Context, call *Call) error {
	return linkViaActivity(ctx, call, true)
}

func relinkToDirectAncestors(ctx context.Context, call *Call) error {
	return linkViaActivity(ctx, call, true)
}

// linkViaActivity creates the activity that generated the entity and links
// parents -> activity -> entity. On update the previous generating links are
// removed first.
func linkViaActivity(ctx context.Context, call *Call, relink bool) error {
	entityUUID := call.New.UUID()
	if entityUUID == "" {
		return errors.New("the entity uuid is not known after persistence")
	}
	parents, err := domain.StringSlice(call.Value())
	if err != nil {
		return fmt.Errorf("invalid %s: %w", call.Property, err)
	}
	if len(parents) == 0 {
		return nil
	}

	activity, err := createActivity(ctx, call)
	if err != nil {
		return err
	}
	if relink {
		if err := call.Deps.Store.UnlinkEntityFromParents(ctx, entityUUID); err != nil {
			return fmt.Errorf("failed to unlink %s from its parents: %w", entityUUID, err)
		}
	}
	if err := call.Deps.Store.LinkEntityViaActivity(ctx, entityUUID, parents, activity); err != nil {
		return fmt.Errorf("failed to link %s to its direct ancestors: %w", entityUUID, err)
	}
	return nil
}

// createActivity runs the activity class's before_create triggers and returns
// the record ready for persistence.
func createActivity(ctx context.Context, call *Call) (domain.Record, error) {
	input := domain.Record{
		domain.KeyCreationAction: fmt.Sprintf("Create %s Activity", call.Class),
	}
	if url, ok := call.New[domain.KeyProtocolURL].(string); ok && url != "" {
		input[domain.KeyProtocolURL] = url
	}

	activityClass := call.Deps.Catalog.ActivityClass()
	generated, err := call.Executor.Generate(ctx, domain.PhaseBeforeCreate, activityClass, call.Request, nil, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate the %s: %w", activityClass, err)
	}

	activity := domain.Merge(input, generated)
	for key, value := range activity {
		if value == nil {
			delete(activity, key)
		}
	}
	return activity, nil
}

func linkCollectionEntities(ctx context.Context, call *Call) error {
	collectionUUID := call.New.UUID()
	if collectionUUID == "" {
		return errors.New("the collection uuid is not known after persistence")
	}
	ids, err := domain.StringSlice(call.Value())
	if err != nil {
		return fmt.Errorf("invalid %s: %w", call.Property, err)
	}
	if err := call.Deps.Store.LinkEntityToEntities(ctx, collectionUUID, repository.RelationInCollection, ids); err != nil {
		return fmt.Errorf("failed to link entities to collection %s: %w", collectionUUID, err)
	}
	return nil
}
