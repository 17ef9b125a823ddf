package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMIMEType = "application/vnd.google-apps.folder"

// Drive is a Sink over a Google Drive folder, including shared drives.
type Drive struct {
	svc *drive.Service
}

// NewDrive authenticates with a service-account JSON key file.
func NewDrive(ctx context.Context, credentialsFile string) (*Drive, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	return NewDriveWithOptions(ctx, option.WithTokenSource(creds.TokenSource))
}

// NewDriveWithOptions builds the Drive client from raw client options.
func NewDriveWithOptions(ctx context.Context, opts ...option.ClientOption) (*Drive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{svc: svc}, nil
}

func (d *Drive) ListPDFs(ctx context.Context, folder string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType='application/pdf' and trashed=false", quote(folder))
	var out []File
	err := d.svc.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name)").
		PageSize(100).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, File{ID: f.Id, Name: f.Name})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folder, classify(err))
	}
	return out, nil
}

func (d *Drive) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, classify(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("download %s: %w", id, ErrTooLarge)
	}
	return data, nil
}

func (d *Drive) EnsureResultFolder(ctx context.Context, parent string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		quote(ResultFolderName), quote(parent), folderMIMEType)
	list, err := d.svc.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find result folder: %w", classify(err))
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := d.svc.Files.Create(&drive.File{
		Name:     ResultFolderName,
		MimeType: folderMIMEType,
		Parents:  []string{parent},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create result folder: %w", classify(err))
	}
	return created.Id, nil
}

func (d *Drive) UploadReport(ctx context.Context, folder, name string, markdown []byte) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: ReportMIMEType,
		Parents:  []string{folder},
	}).
		Media(bytes.NewReader(markdown), googleapi.ContentType(ReportMIMEType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, classify(err))
	}
	return f.Id, nil
}

func (d *Drive) Rename(ctx context.Context, id, name string) (string, error) {
	_, err := d.svc.Files.Update(id, &drive.File{Name: name}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("rename %s: %w", id, classify(err))
	}
	return id, nil
}

// quote escapes a value for a single-quoted Drive query literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
