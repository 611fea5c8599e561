// Package archive is the export provider. It zips the workspace's staged
// pages, layout results, and recognized text into a single artifact and can
// push the archive to an object-storage bucket when one is configured.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"folio/internal/provider"
	"folio/internal/services"
	"folio/internal/textutil"
)

// Provider produces the terminal export artifact of a pipeline.
type Provider struct {
	store  *minio.Client
	bucket string
}

// New returns the archive export provider. store may be nil; uploads are
// then rejected at validation time.
func New(store *minio.Client, bucket string) *Provider {
	return &Provider{store: store, bucket: bucket}
}

func (*Provider) ID() string                  { return "archive" }
func (*Provider) Category() provider.Category { return provider.CategoryExport }

func (*Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "name", Type: provider.ArgString, Default: ""},
		{Name: "upload", Type: provider.ArgBool, Default: false},
	}
}

// CheckPremise requires at least one exportable directory with content.
func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	if target == nil || target.WorkspaceDir == "" {
		return services.Wrap(services.ErrPremise, "archive", "premise", "no workspace configured", nil)
	}
	for _, dir := range exportDirs(target) {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) > 0 {
			return nil
		}
	}
	return services.Wrap(services.ErrPremise, "archive", "premise", "workspace has nothing to export", nil)
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	upload := args.BoolArg("upload", false)
	if upload && p.store == nil {
		return services.Wrap(services.ErrConfiguration, "archive", "execute", "upload requested but no object store configured", nil)
	}

	name := textutil.SanitizeFileName(args.StringArg("name", ""))
	if name == "" {
		name = fmt.Sprintf("export-%s.zip", time.Now().UTC().Format("20060102-150405"))
	}
	if !strings.HasSuffix(name, ".zip") {
		name += ".zip"
	}

	if err := os.MkdirAll(target.ExportsPath(), 0o755); err != nil {
		return services.Wrap(services.ErrExecution, "archive", "mkdir", "create exports directory", err)
	}
	artifact := filepath.Join(target.ExportsPath(), name)

	if err := p.writeArchive(ctx, target, artifact, progress); err != nil {
		return err
	}
	progress(1, fmt.Sprintf("archived workspace to %s", name))

	if upload {
		if err := p.upload(ctx, target, artifact, name); err != nil {
			return err
		}
		progress(1, fmt.Sprintf("uploaded %s to %s", name, p.bucket))
	}
	return nil
}

func (p *Provider) writeArchive(ctx context.Context, target *provider.Target, artifact string, progress provider.ProgressFunc) error {
	out, err := os.Create(artifact)
	if err != nil {
		return services.Wrap(services.ErrExecution, "archive", "create", "create archive file", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	dirs := exportDirs(target)
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return services.Wrap(services.ErrCanceled, "archive", "zip", "export canceled", err)
		}
		if err := addDir(zw, dir, filepath.Base(dir)); err != nil {
			zw.Close()
			return services.Wrap(services.ErrExecution, "archive", "zip",
				fmt.Sprintf("add %s", filepath.Base(dir)), err)
		}
		progress(float64(i+1)/float64(len(dirs)+1), fmt.Sprintf("archived %s", filepath.Base(dir)))
	}
	if err := zw.Close(); err != nil {
		return services.Wrap(services.ErrExecution, "archive", "zip", "finalize archive", err)
	}
	return out.Close()
}

func (p *Provider) upload(ctx context.Context, target *provider.Target, artifact, name string) error {
	key := fmt.Sprintf("%s/sandbox-%d/%s", target.Project, target.SandboxID, name)
	_, err := p.store.FPutObject(ctx, p.bucket, key, artifact,
		minio.PutObjectOptions{ContentType: "application/zip"})
	if err != nil {
		return services.Wrap(services.ErrExecution, "archive", "upload",
			fmt.Sprintf("put %s to bucket %s", key, p.bucket), err)
	}
	return nil
}

func addDir(zw *zip.Writer, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(zw, filepath.Join(dir, entry.Name()), prefix+"/"+entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func exportDirs(target *provider.Target) []string {
	return []string{target.PagesPath(), target.LayoutPath(), target.TextPath()}
}
