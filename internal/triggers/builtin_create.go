package triggers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rpattn/entityapi/internal/domain"
)

const statusNew = "New"

func setTimestamp(_ context.Context, call *Call) (string, any, error) {
	return call.Property, call.Deps.now().UnixMilli(), nil
}

func setEntityType(_ context.Context, call *Call) (string, any, error) {
	return call.Property, call.Class, nil
}

func setUserSub(_ context.Context, call *Call) (string, any, error) {
	user := call.Request.CurrentUser()
	if user.Sub == "" {
		return "", nil, errors.New("unable to resolve the sub of the current user")
	}
	return call.Property, user.Sub, nil
}

func setUserEmail(_ context.Context, call *Call) (string, any, error) {
	user := call.Request.CurrentUser()
	if user.Email == "" {
		return "", nil, nil
	}
	return call.Property, user.Email, nil
}

func setUserDisplayName(_ context.Context, call *Call) (string, any, error) {
	user := call.Request.CurrentUser()
	if user.DisplayName == "" {
		return "", nil, nil
	}
	return call.Property, user.DisplayName, nil
}

// setDataAccessLevel marks datasets carrying human genetic sequences as
// protected. Everything else starts at consortium level.
func setDataAccessLevel(_ context.Context, call *Call) (string, any, error) {
	isDataset, err := call.Deps.Catalog.IsInstanceOf(call.Class, domain.ClassDataset)
	if err != nil {
		return "", nil, err
	}
	if isDataset {
		if genetic, _ := call.New[domain.KeyContainsHumanGenetic].(bool); genetic {
			return call.Property, domain.AccessLevelProtected, nil
		}
	}
	return call.Property, domain.AccessLevelConsortium, nil
}

// setGroupUUID resolves the owning data provider group. An explicitly
// requested group must be a data provider the caller belongs to; otherwise
// the caller must belong to exactly one data provider group.
func setGroupUUID(ctx context.Context, call *Call) (string, any, error) {
	providers, err := dataProviders(ctx, call.Deps)
	if err != nil {
		return "", nil, err
	}
	user := call.Request.CurrentUser()

	if requested, _ := call.New[domain.KeyGroupUUID].(string); requested != "" {
		group, ok := providers[strings.ToLower(requested)]
		if !ok || (!user.DataAdmin && !user.InGroup(requested)) {
			return "", nil, &domain.UnmatchedDataProviderGroupError{GroupUUID: requested}
		}
		return call.Property, group.UUID, nil
	}

	var mine []string
	for _, id := range user.GroupUUIDs {
		if group, ok := providers[strings.ToLower(id)]; ok {
			mine = append(mine, group.UUID)
		}
	}
	sort.Strings(mine)
	switch len(mine) {
	case 0:
		return "", nil, &domain.NoDataProviderGroupError{}
	case 1:
		return call.Property, mine[0], nil
	default:
		return "", nil, &domain.MultipleDataProviderGroupError{Groups: mine}
	}
}

func setGroupName(ctx context.Context, call *Call) (string, any, error) {
	groupUUID, _ := call.Generated[domain.KeyGroupUUID].(string)
	if groupUUID == "" {
		groupUUID, _ = call.New[domain.KeyGroupUUID].(string)
	}
	if groupUUID == "" {
		return "", nil, nil
	}
	providers, err := dataProviders(ctx, call.Deps)
	if err != nil {
		return "", nil, err
	}
	group, ok := providers[strings.ToLower(groupUUID)]
	if !ok {
		return "", nil, nil
	}
	return call.Property, group.DisplayName, nil
}

func dataProviders(ctx context.Context, d *Deps) (map[string]domain.Group, error) {
	if d.Groups == nil {
		return nil, errors.New("no group directory configured")
	}
	groups, err := d.Groups.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	out := make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		if g.DataProvider {
			out[strings.ToLower(g.UUID)] = g
		}
	}
	return out, nil
}

func setDisplaySubtype(_ context.Context, call *Call) (string, any, error) {
	merged := call.Merged()
	catalog := call.Deps.Catalog

	if ok, _ := catalog.IsInstanceOf(call.Class, domain.ClassSample); ok {
		category := merged.StringOr(domain.KeySampleCategory, "")
		if strings.EqualFold(category, domain.SampleCategoryOrgan) {
			code := merged.StringOr(domain.KeyOrgan, "")
			if call.Deps.Ontology != nil {
				if name, known := call.Deps.Ontology.OrganName(code); known {
					return call.Property, name, nil
				}
			}
			if code != "" {
				return call.Property, code, nil
			}
		}
		return call.Property, titleCase(category), nil
	}
	if ok, _ := catalog.IsInstanceOf(call.Class, domain.ClassSource); ok {
		return call.Property, merged.StringOr(domain.KeySourceType, ""), nil
	}
	if ok, _ := catalog.IsInstanceOf(call.Class, domain.ClassDataset); ok {
		return call.Property, merged.StringOr(domain.KeyDatasetType, ""), nil
	}
	return "", nil, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

func setDatasetStatusNew(_ context.Context, call *Call) (string, any, error) {
	return call.Property, statusNew, nil
}

func setActivityCreationAction(_ context.Context, call *Call) (string, any, error) {
	action, _ := call.New[domain.KeyCreationAction].(string)
	if action == "" {
		return "", nil, errors.New("creation_action is required to create an activity")
	}
	return call.Property, action, nil
}

// setUUID mints the uuid and public id pair unless an earlier reducer in the
// same pass already did.
func setUUID(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	if acc.Has(domain.KeyUUID) {
		return acc, nil
	}
	return mintInto(ctx, call, acc)
}

func setSennetID(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	switch {
	case acc.Has(domain.KeySennetID):
		return acc, nil
	case acc.Has(domain.KeyUUID):
		return nil, errors.New("sennet_id was not minted together with uuid")
	}
	return mintInto(ctx, call, acc)
}

func mintInto(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	if call.Deps.Minter == nil {
		return nil, errors.New("no identity minter configured")
	}
	var parents []string
	for _, key := range []string{domain.KeyDirectAncestorUUID, domain.KeyDirectAncestorUUIDs} {
		ids, err := domain.StringSlice(call.New[key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parents = append(parents, ids...)
	}
	ids, err := call.Deps.Minter.CreateIDs(ctx, call.Class, parents, 1)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("identity minter returned no ids")
	}
	acc[domain.KeyUUID] = ids[0].UUID
	acc[domain.KeySennetID] = ids[0].ExternalID
	return acc, nil
}

const (
	keyImageFiles    = "image_files"
	keyThumbnailFile = "thumbnail_file"
	keyFileUUID      = "file_uuid"
	keyFilename      = "filename"
	keyDescription   = "description"
	keyTempFileID    = "temp_file_id"
)

// commitImageFiles commits every requested temp upload and appends the
// committed file descriptors to image_files.
func commitImageFiles(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	requests, err := fileRequests(call.Value())
	if err != nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: err}
	}
	if len(requests) == 0 {
		return acc, nil
	}
	if call.Deps.Files == nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: errors.New("no file service configured")}
	}

	images := currentImages(call, acc)
	entityUUID := call.EntityUUID()
	for _, req := range requests {
		tempID, _ := req[keyTempFileID].(string)
		info, err := call.Deps.Files.Commit(ctx, call.Request.AuthToken(), tempID, entityUUID)
		if err != nil {
			return nil, &domain.FileUploadError{Property: call.Property, Err: err}
		}
		file := map[string]any{keyFileUUID: info.FileUUID, keyFilename: info.Filename}
		if desc, ok := req[keyDescription].(string); ok && desc != "" {
			file[keyDescription] = desc
		}
		images = append(images, file)
	}
	acc[keyImageFiles] = images
	return acc, nil
}

// deleteImageFiles removes the listed file uuids from storage and from
// image_files.
func deleteImageFiles(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	ids, err := domain.StringSlice(call.Value())
	if err != nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: err}
	}
	if len(ids) == 0 {
		return acc, nil
	}
	if call.Deps.Files == nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: errors.New("no file service configured")}
	}
	if err := call.Deps.Files.Remove(ctx, call.Request.AuthToken(), call.EntityUUID(), ids); err != nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: err}
	}

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}
	var kept []any
	for _, item := range currentImages(call, acc) {
		if file, ok := item.(map[string]any); ok {
			if id, _ := file[keyFileUUID].(string); id != "" {
				if _, gone := removed[id]; gone {
					continue
				}
			}
		}
		kept = append(kept, item)
	}
	if kept == nil {
		kept = []any{}
	}
	acc[keyImageFiles] = kept
	return acc, nil
}

func currentImages(call *Call, acc domain.Record) []any {
	value, ok := acc[keyImageFiles]
	if !ok {
		value = call.Deps.decode(call.Existing[keyImageFiles])
	}
	list, _ := value.([]any)
	return append([]any(nil), list...)
}

func fileRequests(value any) ([]map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of file objects, got %T", value)
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		req, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("file %d must be an object", i)
		}
		if id, _ := req[keyTempFileID].(string); id == "" {
			return nil, fmt.Errorf("file %d is missing %s", i, keyTempFileID)
		}
		out = append(out, req)
	}
	return out, nil
}

// commitThumbnailFile commits the uploaded thumbnail and writes it to
// thumbnail_file, replacing any committed thumbnail.
func commitThumbnailFile(ctx context.Context, call *Call) (string, any, error) {
	tempID, _ := call.Value().(string)
	if tempID == "" {
		return "", nil, nil
	}
	if call.Deps.Files == nil {
		return "", nil, &domain.FileUploadError{Property: call.Property, Err: errors.New("no file service configured")}
	}
	entityUUID := call.EntityUUID()
	token := call.Request.AuthToken()

	if previous := existingThumbnail(call); previous != "" {
		if err := call.Deps.Files.Remove(ctx, token, entityUUID, []string{previous}); err != nil {
			return "", nil, &domain.FileUploadError{Property: call.Property, Err: err}
		}
	}
	info, err := call.Deps.Files.Commit(ctx, token, tempID, entityUUID)
	if err != nil {
		return "", nil, &domain.FileUploadError{Property: call.Property, Err: err}
	}
	return keyThumbnailFile, map[string]any{keyFileUUID: info.FileUUID, keyFilename: info.Filename}, nil
}

// deleteThumbnailFile removes the committed thumbnail and leaves an explicit
// nil so the stored property is deleted.
func deleteThumbnailFile(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error) {
	fileUUID, _ := call.Value().(string)
	if fileUUID == "" {
		return acc, nil
	}
	if current := existingThumbnail(call); current != fileUUID {
		return nil, &domain.FileUploadError{
			Property: call.Property,
			Err:      fmt.Errorf("file %s is not the thumbnail of entity %s", fileUUID, call.EntityUUID()),
		}
	}
	if call.Deps.Files == nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: errors.New("no file service configured")}
	}
	if err := call.Deps.Files.Remove(ctx, call.Request.AuthToken(), call.EntityUUID(), []string{fileUUID}); err != nil {
		return nil, &domain.FileUploadError{Property: call.Property, Err: err}
	}
	acc[keyThumbnailFile] = nil
	return acc, nil
}

func existingThumbnail(call *Call) string {
	file, ok := call.Deps.decode(call.Existing[keyThumbnailFile]).(map[string]any)
	if !ok {
		return ""
	}
	id, _ := file[keyFileUUID].(string)
	return id
}
