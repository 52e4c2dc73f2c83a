package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"syncapp/internal/config"
	"syncapp/internal/core"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GDrive adapts a Google Drive tree. Drive is hierarchical with opaque file
// IDs, so every listing refreshes the persisted directory tree and path
// resolution consults it before falling back to live queries. The
// backend-native identity is the Drive file ID.
type GDrive struct {
	svc     *drive.Service
	base    *url.URL
	session string
	tree    core.DirectoryTree
	logger  core.Logger

	rootID   string // resolved lazily, the real ID behind the "root" alias
	baseSegs []string
	baseID   string // folder ID the base URL points at, resolved lazily
}

// NewGDrive creates an endpoint for gdrive://session/folder/path. The URL
// host names the session; the path selects a folder under the Drive root.
func NewGDrive(ctx context.Context, baseURL *url.URL, cfg config.GDriveConfig, tree core.DirectoryTree, logger core.Logger) (*GDrive, error) {
	if baseURL.Scheme != "gdrive" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: expected gdrive://session/..., got %s", core.ErrInvalidURL, baseURL)
	}

	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return newGDriveWithService(svc, baseURL, tree, logger), nil
}

// newGDriveWithService wires an endpoint over an existing service, for tests.
func newGDriveWithService(svc *drive.Service, baseURL *url.URL, tree core.DirectoryTree, logger core.Logger) *GDrive {
	u := *baseURL
	u.Path = strings.TrimSuffix(u.Path, "/")
	var segs []string
	if p := strings.Trim(u.Path, "/"); p != "" {
		segs = strings.Split(p, "/")
	}
	return &GDrive{
		svc:      svc,
		base:     &u,
		session:  u.Host,
		tree:     tree,
		logger:   logger,
		baseSegs: segs,
	}
}

func (e *GDrive) ServiceType() core.ServiceType { return core.ServiceGDrive }
func (e *GDrive) Session() string               { return e.session }
func (e *GDrive) BaseURL() *url.URL             { return e.base }

// ensureRoot resolves the "root" alias to its real file ID and records the
// root directory node. Children report the real ID in their parents list, so
// the alias alone cannot anchor the tree.
func (e *GDrive) ensureRoot(ctx context.Context) error {
	if e.rootID != "" {
		return nil
	}
	f, err := e.svc.Files.Get("root").Fields("id").Context(ctx).Do()
	if err != nil {
		return classifyDrive(fmt.Errorf("resolving drive root: %w", err))
	}
	e.rootID = f.Id
	return e.tree.UpsertNode(&core.DirectoryRecord{
		DirectoryID:    f.Id,
		DirectoryName:  "",
		IsRoot:         true,
		ServiceType:    core.ServiceGDrive,
		ServiceSession: e.session,
	})
}

// ensureBase walks the base URL's folder path from the root, caching each
// node, and remembers the folder the endpoint is anchored at.
func (e *GDrive) ensureBase(ctx context.Context) error {
	if e.baseID != "" {
		return nil
	}
	if err := e.ensureRoot(ctx); err != nil {
		return err
	}
	cur := e.rootID
	for _, seg := range e.baseSegs {
		child, err := e.findChild(ctx, cur, seg, true)
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("%w: folder %q", core.ErrUnresolvable, seg)
		}
		e.cacheFolder(child, cur)
		cur = child.Id
	}
	e.baseID = cur
	return nil
}

func (e *GDrive) cacheFolder(f *drive.File, parentID string) {
	err := e.tree.UpsertNode(&core.DirectoryRecord{
		DirectoryID:    f.Id,
		DirectoryName:  f.Name,
		ParentID:       parentID,
		ServiceType:    core.ServiceGDrive,
		ServiceSession: e.session,
	})
	if err != nil {
		e.logger.Warn("directory cache update failed", "folder", f.Name, "err", err)
	}
}

func (e *GDrive) List(ctx context.Context, fn func(core.Entry) error) error {
	if err := e.ensureBase(ctx); err != nil {
		return err
	}

	type frame struct {
		id  string
		rel string
	}
	stack := []frame{{id: e.baseID}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pageToken := ""
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			call := e.svc.Files.List().
				Q(fmt.Sprintf("'%s' in parents and trashed = false", cur.id)).
				Fields("nextPageToken, files(id, name, mimeType, size, md5Checksum, modifiedTime)").
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			page, err := call.Do()
			if err != nil {
				return classifyDrive(fmt.Errorf("listing drive folder %s: %w", cur.id, err))
			}

			for _, f := range page.Files {
				rel := f.Name
				if cur.rel != "" {
					rel = cur.rel + "/" + f.Name
				}
				if f.MimeType == folderMimeType {
					e.cacheFolder(f, cur.id)
					stack = append(stack, frame{id: f.Id, rel: rel})
					if err := fn(core.Entry{Ident: f.Id, RelPath: rel, IsDir: true}); err != nil {
						return err
					}
					continue
				}
				entry := core.Entry{
					Ident:   f.Id,
					RelPath: rel,
					Size:    f.Size,
					MD5Sum:  f.Md5Checksum,
				}
				if f.ModifiedTime != "" {
					if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
						entry.MTime = t.Unix()
					}
				}
				if err := fn(entry); err != nil {
					return err
				}
			}

			pageToken = page.NextPageToken
			if pageToken == "" {
				break
			}
		}
	}
	return nil
}

func (e *GDrive) Stat(ctx context.Context, ident string) (int64, int64, error) {
	f, err := e.svc.Files.Get(ident).Fields("size, modifiedTime, trashed").Context(ctx).Do()
	if err != nil {
		return 0, 0, classifyDrive(fmt.Errorf("stat drive file %s: %w", ident, err))
	}
	if f.Trashed {
		return 0, 0, fmt.Errorf("%w: drive file %s is trashed", core.ErrNotFound, ident)
	}
	var mtime int64
	if f.ModifiedTime != "" {
		if t, perr := time.Parse(time.RFC3339, f.ModifiedTime); perr == nil {
			mtime = t.Unix()
		}
	}
	return f.Size, mtime, nil
}

func (e *GDrive) Read(ctx context.Context, ident string) (io.ReadCloser, error) {
	resp, err := e.svc.Files.Get(ident).Context(ctx).Download()
	if err != nil {
		return nil, classifyDrive(fmt.Errorf("downloading drive file %s: %w", ident, err))
	}
	return resp.Body, nil
}

// Write uploads to the folder named by relPath's directory part, creating
// missing folders on the way and caching each created node. An existing file
// with the same name is updated in place.
func (e *GDrive) Write(ctx context.Context, relPath string, r io.Reader, size, mtime int64) (string, error) {
	if err := e.ensureBase(ctx); err != nil {
		return "", err
	}

	dir, name := path.Split(strings.Trim(relPath, "/"))
	parentID := e.baseID
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		id, err := e.ensureFolder(ctx, parentID, seg)
		if err != nil {
			return "", err
		}
		parentID = id
	}

	modTime := time.Unix(mtime, 0).UTC().Format(time.RFC3339)

	existing, err := e.findChild(ctx, parentID, name, false)
	if err != nil {
		return "", err
	}
	if existing != nil {
		f, err := e.svc.Files.Update(existing.Id, &drive.File{ModifiedTime: modTime}).
			Media(r).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", classifyDrive(fmt.Errorf("updating drive file %s: %w", name, err))
		}
		return f.Id, nil
	}

	f, err := e.svc.Files.Create(&drive.File{
		Name:         name,
		Parents:      []string{parentID},
		ModifiedTime: modTime,
	}).Media(r).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", classifyDrive(fmt.Errorf("creating drive file %s: %w", name, err))
	}
	return f.Id, nil
}

// Delete moves the file to trash rather than destroying it. A trashed folder
// also leaves the cached directory tree.
func (e *GDrive) Delete(ctx context.Context, ident string) error {
	_, err := e.svc.Files.Update(ident, &drive.File{Trashed: true}).Context(ctx).Do()
	if err != nil {
		return classifyDrive(fmt.Errorf("trashing drive file %s: %w", ident, err))
	}
	if err := e.tree.DeleteNode(core.ServiceGDrive, e.session, ident); err != nil {
		e.logger.Warn("directory cache removal failed", "id", ident, "err", err)
	}
	return nil
}

// Resolve walks the URL's path to a file ID, consulting the cached directory
// tree first and falling back to live folder queries for unknown segments.
func (e *GDrive) Resolve(ctx context.Context, u *url.URL) (string, error) {
	rel, err := core.RemoveBaseURL(u, e.base)
	if err != nil {
		return "", err
	}
	if err := e.ensureBase(ctx); err != nil {
		return "", err
	}

	segs := strings.Split(strings.Trim(rel, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "", fmt.Errorf("%w: empty path", core.ErrInvalidURL)
	}
	dirSegs, name := segs[:len(segs)-1], segs[len(segs)-1]

	parentID := e.baseID
	if len(dirSegs) > 0 {
		if chain, terr := e.tree.ResolvePath(core.ServiceGDrive, e.session, append(e.baseSegs, dirSegs...)); terr == nil {
			parentID = chain[len(chain)-1]
		} else {
			for _, seg := range dirSegs {
				child, err := e.findChild(ctx, parentID, seg, true)
				if err != nil {
					return "", err
				}
				if child == nil {
					return "", fmt.Errorf("%w: folder %q", core.ErrUnresolvable, seg)
				}
				e.cacheFolder(child, parentID)
				parentID = child.Id
			}
		}
	}

	f, err := e.findChild(ctx, parentID, name, false)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, u)
	}
	return f.Id, nil
}

// ensureFolder finds or creates a child folder and caches the node.
func (e *GDrive) ensureFolder(ctx context.Context, parentID, name string) (string, error) {
	child, err := e.findChild(ctx, parentID, name, true)
	if err != nil {
		return "", err
	}
	if child != nil {
		e.cacheFolder(child, parentID)
		return child.Id, nil
	}

	f, err := e.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields("id, name").Context(ctx).Do()
	if err != nil {
		return "", classifyDrive(fmt.Errorf("creating drive folder %s: %w", name, err))
	}
	e.cacheFolder(f, parentID)
	return f.Id, nil
}

// findChild queries for a child by exact name. Returns nil when absent.
func (e *GDrive) findChild(ctx context.Context, parentID, name string, foldersOnly bool) (*drive.File, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		parentID, strings.ReplaceAll(name, "'", `\'`))
	if foldersOnly {
		q += fmt.Sprintf(" and mimeType = '%s'", folderMimeType)
	}
	page, err := e.svc.Files.List().Q(q).
		Fields("files(id, name, mimeType, size, md5Checksum, modifiedTime)").
		PageSize(2).Context(ctx).Do()
	if err != nil {
		return nil, classifyDrive(fmt.Errorf("querying drive folder %s: %w", parentID, err))
	}
	if len(page.Files) == 0 {
		return nil, nil
	}
	return page.Files[0], nil
}

// classifyDrive maps Drive API errors onto the sentinel and retryability
// scheme. Rate limits arrive as 403s with a rate-limit reason, not 429s.
func classifyDrive(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return core.Transient(err)
	}
	switch {
	case gerr.Code == 404:
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	case gerr.Code == 429 || gerr.Code >= 500:
		return core.Transient(err)
	case gerr.Code == 403 && strings.Contains(strings.ToLower(gerr.Message), "rate"):
		return core.Transient(err)
	default:
		return core.Permanent(err)
	}
}

var _ core.Endpoint = (*GDrive)(nil)
