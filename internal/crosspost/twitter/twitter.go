// Package twitter posts the host copy of a draft to X.
package twitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blacktop/crosspost/internal/crosspost"
	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/blacktop/crosspost/internal/media"
	"github.com/blacktop/crosspost/internal/relay"
	"github.com/blacktop/crosspost/internal/settings"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

// MaxImages is the number of images X accepts on one post.
const MaxImages = 4

// Poster publishes to X with OAuth 1.0a user-context credentials.
type Poster struct {
	api *gotwi.Client
}

// New builds a Poster whose API calls cross r.
func New(r relay.Relay, cfg settings.Twitter) (*Poster, error) {
	var missing []string
	if cfg.ConsumerKey == "" {
		missing = append(missing, "twitter.consumer_key")
	}
	if cfg.ConsumerSecret == "" {
		missing = append(missing, "twitter.consumer_secret")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "twitter.access_token")
	}
	if cfg.AccessTokenSecret == "" {
		missing = append(missing, "twitter.access_token_secret")
	}
	if len(missing) > 0 {
		return nil, crosspost.ConfigError{Platform: crosspost.X, Missing: missing}
	}

	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           relay.HTTPClient(r),
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessTokenSecret,
		APIKey:               cfg.ConsumerKey,
		APIKeySecret:         cfg.ConsumerSecret,
		Debug:                logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return nil, fmt.Errorf("X client not ready")
	}
	return &Poster{api: client}, nil
}

// Post publishes the draft text with up to MaxImages images.
func (p *Poster) Post(ctx context.Context, draft crosspost.PostDraft) error {
	images := draft.Images
	if len(images) > MaxImages {
		logutil.Warnf("X accepts %d images, dropping %d", MaxImages, len(images)-MaxImages)
		images = images[:MaxImages]
	}

	var mediaIDs []string
	for _, img := range images {
		blob, err := img.Fetch(ctx)
		if err != nil {
			return crosspost.ValidationError{Platform: crosspost.X, Reason: err.Error()}
		}
		logutil.Debugf("uploading media: source=%s bytes=%d", img.Source(), blob.Size())
		mediaID, err := p.uploadMedia(ctx, blob)
		if err != nil {
			return err
		}
		mediaIDs = append(mediaIDs, mediaID)
		logutil.Debugf("media uploaded: media_id=%s", mediaID)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(draft.Text),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	logutil.Debugf("posting tweet: media_count=%d", len(mediaIDs))
	if _, err := managetweet.Create(ctx, p.api, input); err != nil {
		return crosspost.PublishError{Platform: crosspost.X, Reason: "post tweet", Err: unwrapGotwiError(err)}
	}
	logutil.Debugf("tweet posted successfully")
	return nil
}

func (p *Poster) uploadMedia(ctx context.Context, blob media.Blob) (string, error) {
	mediaType, category, err := resolveMediaType(blob)
	if err != nil {
		return "", err
	}

	logutil.Debugf("initialize upload: media_type=%s bytes=%d", mediaType, blob.Size())
	initRes, err := upload.Initialize(ctx, p.api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    blob.Size(),
		MediaCategory: category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", unwrapGotwiError(err))
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(blob.Data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()

	logutil.Debugf("append upload: media_id=%s segment=0", mediaID)
	appendRes, err := upload.Append(ctx, p.api, appendIn)
	if err != nil {
		return "", fmt.Errorf("append upload: %w", unwrapGotwiError(err))
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finalizeRes, err := upload.Finalize(ctx, p.api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", unwrapGotwiError(err))
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	state := finalizeRes.Data.ProcessingInfo.State
	logutil.Debugf("finalize state=%s media_id=%s", state, mediaID)
	switch state {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		wait := time.Duration(finalizeRes.Data.ProcessingInfo.CheckAfterSecs) * time.Second
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", state)
	}
	return mediaID, nil
}

func resolveMediaType(blob media.Blob) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(blob.Data)
	}
	switch {
	case strings.Contains(mimeType, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(mimeType, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(mimeType, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(mimeType, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}
	return "", "", crosspost.ValidationError{Platform: crosspost.X, Reason: fmt.Sprintf("unsupported image type %q", mimeType)}
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprint(*pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		return errors.New("unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		return errors.New(summarizeGotwiError(gwErr))
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if len(parts) == 0 {
		return "X API request failed"
	}
	return strings.Join(parts, "; ")
}
