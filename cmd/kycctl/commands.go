package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"kyc-service/cmd/kycctl/ui"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/presence"
	"kyc-service/internal/util"
)

// kycAPI is what the commands need from the service.
type kycAPI interface {
	kyc.StatusSource
	presence.Writer
	Submit(ctx context.Context, userID string, details models.PersonalDetails, docs []kyc.StagedDocument) (*models.KYCVerification, error)
	Watch(ctx context.Context, userID string) (<-chan struct{}, error)
}

const pollInterval = 15 * time.Second

func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := a.newFlagSet("submit")
	userID := fs.String("user", "", "user id")
	var details models.PersonalDetails
	fs.StringVar(&details.DocumentType, "document-type", string(kyc.DocumentTypePassport), "passport or id_card")
	fs.StringVar(&details.DocumentNumber, "document-number", "", "document number")
	fs.StringVar(&details.FullName, "full-name", "", "full legal name")
	fs.StringVar(&details.DateOfBirth, "dob", "", "date of birth (YYYY-MM-DD)")
	fs.StringVar(&details.Address, "address", "", "street address")
	fs.StringVar(&details.City, "city", "", "city")
	fs.StringVar(&details.Country, "country", "", "country")
	fs.StringVar(&details.PostalCode, "postal-code", "", "postal code")
	files := map[kyc.Category]*string{}
	for _, c := range kyc.Categories {
		files[c] = fs.String(flagName(c), "", "path to the "+string(c)+" file")
	}
	previewDir := fs.String("preview-dir", "", "directory for image previews (default: system temp)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	stager := kyc.NewStager(&kyc.TempFilePreviews{Dir: *previewDir})
	defer stager.Close()

	for _, c := range kyc.Categories {
		path := *files[c]
		if path == "" {
			continue
		}
		doc, err := loadDocument(path)
		if err != nil {
			return err
		}
		if _, err := stager.Select(c, doc); err != nil {
			return err
		}
	}

	fmt.Fprintln(a.out, ui.Staged(stager.Documents(), stager.Missing()))
	if err := kyc.RequireDocuments(func(c kyc.Category) bool {
		_, ok := stager.Get(c)
		return ok
	}); err != nil {
		return err
	}

	record, err := a.client.Submit(ctx, *userID, details, stager.Documents())
	if err != nil {
		return err
	}
	stager.MarkUploaded()
	fmt.Fprintln(a.out, ui.Submitted(record))
	return nil
}

func flagName(c kyc.Category) string {
	switch c {
	case kyc.CategoryIDDocument:
		return "id-document"
	case kyc.CategoryUtilityBill:
		return "utility-bill"
	case kyc.CategoryDriverLicense:
		return "driver-license"
	default:
		return string(c)
	}
}

// loadDocument reads a file from disk. Oversize files are returned without
// their bytes so validation can reject them by size.
func loadDocument(path string) (kyc.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return kyc.Document{}, err
	}
	doc := kyc.Document{Name: filepath.Base(path), Size: info.Size()}

	var data []byte
	if doc.Size <= kyc.MaxDocumentSize {
		if data, err = os.ReadFile(path); err != nil {
			return kyc.Document{}, err
		}
		doc.Data = data
		doc.Size = int64(len(data))
	}

	doc.ContentType = mime.TypeByExtension(filepath.Ext(path))
	if doc.ContentType == "" && data != nil {
		doc.ContentType = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(doc.ContentType); err == nil {
		doc.ContentType = mediaType
	}
	return doc, nil
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := a.newFlagSet("status")
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	viewer := kyc.NewViewer(a.client, *userID, nil, a.logger)
	status := viewer.Check(ctx)
	fmt.Fprintln(a.out, ui.Status(*userID, viewer.View(), status))
	return nil
}

// watch keeps the user online, re-renders on every status change and
// returns once the user is approved or a termination signal arrives.
func (a *app) watch(ctx context.Context, args []string) error {
	fs := a.newFlagSet("watch")
	userID := fs.String("user", "", "user id")
	heartbeat := fs.Duration("heartbeat", presence.DefaultHeartbeatInterval, "presence keepalive interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := presence.NewTracker(a.client, *heartbeat, a.logger.Named("presence"))
	session := tracker.Start(ctx, *userID)
	defer session.Stop()

	approved := make(chan struct{})
	viewer := kyc.NewViewer(a.client, *userID, func() { close(approved) }, a.logger)

	ticks, err := a.client.Watch(ctx, *userID)
	if err != nil {
		a.logger.Warn("change stream unavailable, polling instead", util.ErrorField(err))
		ticks = poll(ctx, pollInterval)
	}

	render := func() {
		status := viewer.Check(ctx)
		fmt.Fprintln(a.out, ui.Status(*userID, viewer.View(), status))
	}
	render()

	for {
		select {
		case <-approved:
			return nil
		case sig := <-a.signals:
			a.logger.Debug("terminating on signal", util.String("signal", sig.String()))
			session.Dispatch(presence.EventUnload)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			render()
		}
	}
}

func poll(ctx context.Context, every time.Duration) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
