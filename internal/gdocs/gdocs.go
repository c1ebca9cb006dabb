// Package gdocs copies a Google Docs template and fills its placeholders.
package gdocs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	logx "herald/pkg/logx"
)

const docURLPrefix = "https://docs.google.com/document/d/"

// Request describes one document to generate.
type Request struct {
	TemplateID   string
	FolderID     string // optional destination folder
	Name         string
	Replacements map[string]string
}

type Result struct {
	ID  string
	URL string
}

// URL returns the browser link for a document id.
func URL(id string) string { return docURLPrefix + id }

type Service struct {
	drive *drive.Service
	docs  *docs.Service
	log   logx.Logger
}

func New(ctx context.Context, log logx.Logger, opts ...option.ClientOption) (*Service, error) {
	dr, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	dc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("docs service: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{drive: dr, docs: dc, log: log.With(logx.String("comp", "gdocs"))}, nil
}

// Generate copies the template and applies every replacement (case
// sensitive) to the copy.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.TemplateID) == "" {
		return Result{}, fmt.Errorf("document template_id required")
	}
	meta := &drive.File{Name: req.Name}
	if req.FolderID != "" {
		meta.Parents = []string{req.FolderID}
	}
	copied, err := s.drive.Files.Copy(req.TemplateID, meta).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("copy template %s: %w", req.TemplateID, err)
	}

	keys := make([]string, 0, len(req.Replacements))
	for k := range req.Replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	reqs := make([]*docs.Request, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, &docs.Request{ReplaceAllText: &docs.ReplaceAllTextRequest{
			ContainsText: &docs.SubstringMatchCriteria{Text: k, MatchCase: true},
			ReplaceText:  req.Replacements[k],
		}})
	}
	if len(reqs) > 0 {
		_, err := s.docs.Documents.BatchUpdate(copied.Id, &docs.BatchUpdateDocumentRequest{Requests: reqs}).Context(ctx).Do()
		if err != nil {
			return Result{ID: copied.Id, URL: URL(copied.Id)}, fmt.Errorf("fill document %s: %w", copied.Id, err)
		}
	}
	s.log.Info("document generated", logx.String("doc_id", copied.Id), logx.String("name", req.Name), logx.Int("replacements", len(reqs)))
	return Result{ID: copied.Id, URL: URL(copied.Id)}, nil
}
