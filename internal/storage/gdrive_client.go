package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// ErrNoDriveToken means the OAuth token file has not been created yet.
var ErrNoDriveToken = errors.New("google drive token not found")

// DriveExporter uploads completed transcripts to Google Drive
type DriveExporter struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// DriveOAuthConfig reads the OAuth client credentials file
func DriveOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return config, nil
}

// NewDriveExporter creates a Drive exporter from a credentials file and a
// previously saved token (see AuthorizeDrive).
func NewDriveExporter(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	config, err := DriveOAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDriveToken, tokenFile)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	dc := &DriveExporter{
		service:    srv,
		folderName: folderName,
	}

	// Find or create the root folder
	folderID, err := dc.findOrCreateFolder(ctx, folderName, "")
	if err != nil {
		return nil, fmt.Errorf("unable to prepare folder %q: %w", folderName, err)
	}
	dc.folderID = folderID

	return dc, nil
}

// AuthorizeDrive runs the interactive OAuth flow: it prints the consent URL
// to out, reads the authorization code from in and saves the token.
func AuthorizeDrive(ctx context.Context, config *oauth2.Config, tokenFile string, in io.Reader, out io.Writer) error {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser:\n%v\n", authURL)
	fmt.Fprint(out, "Enter authorization code: ")

	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return saveToken(tokenFile, tok)
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// Name identifies the exporter in logs
func (dc *DriveExporter) Name() string { return "gdrive" }

// Export uploads transcript and metadata, returning a link to the metadata file
func (dc *DriveExporter) Export(ctx context.Context, job *types.Job) (string, error) {
	// Dated folder structure: Transcripts/2025/01/23/
	now := time.Now()
	folderID, err := dc.ensureDateFolder(ctx, now)
	if err != nil {
		return "", err
	}

	base := transcriptBaseName(now, job)

	txtFile := &drive.File{
		Name:    base + ".txt",
		Parents: []string{folderID},
	}
	_, err = dc.service.Files.Create(txtFile).
		Media(strings.NewReader(deref(job.FullText))).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	metaJSON, err := transcriptMetadata(job)
	if err != nil {
		return "", err
	}
	metaFile := &drive.File{
		Name:    base + "_meta.json",
		Parents: []string{folderID},
	}
	createdMeta, err := dc.service.Files.Create(metaFile).
		Media(bytes.NewReader(metaJSON)).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", createdMeta.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveExporter) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := dc.folderID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		id, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder; an empty parentID means the Drive root
func (dc *DriveExporter) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		escapeDriveQuery(name), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", escapeDriveQuery(parentID))
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to search for folder: %w", err)
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create folder: %w", err)
	}
	return file.Id, nil
}

func escapeDriveQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
