// Package callrecord correlates calls with AI conversations and turns
// post-call webhooks into persisted call records.
package callrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiv6146/callbridge/internal/models"
	"github.com/shiv6146/callbridge/internal/summary"
	"github.com/shiv6146/callbridge/internal/webhook"
)

const (
	// MaxPageSize caps List page sizes.
	MaxPageSize = 100

	defaultTTL        = 2 * time.Hour
	unknownClientName = "Unknown"

	fieldCallSID     = "call_sid"
	fieldClientName  = "client_name"
	fieldPhoneNumber = "phone_number"
)

// ErrInvalidArgument is returned for empty ids and out-of-range pages.
var ErrInvalidArgument = errors.New("invalid argument")

// Repository persists call records.
type Repository interface {
	UpsertCallRecord(ctx context.Context, record *models.CallRecord) (*models.CallRecord, error)
	ListCallRecords(ctx context.Context, page, pageSize int) ([]*models.CallRecord, int64, error)
	GetCallRecord(ctx context.Context, callID string) (*models.CallRecord, error)
	Summary(ctx context.Context) (*models.CallSummary, error)
}

// Summarizer condenses a transcript.
type Summarizer interface {
	Analyze(ctx context.Context, transcript string) (*summary.Analysis, error)
}

// Notifier broadcasts lifecycle events to dashboards.
type Notifier interface {
	Broadcast(event string, payload any)
}

// Options configures a Service. Summarizer and Notifier are optional.
type Options struct {
	Repository Repository
	KV         KV
	Summarizer Summarizer
	Notifier   Notifier
	TTL        time.Duration
	Logger     zerolog.Logger
}

// Service owns call correlation and call records.
type Service struct {
	repo       Repository
	kv         KV
	summarizer Summarizer
	notifier   Notifier
	ttl        time.Duration
	log        zerolog.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		repo:       opts.Repository,
		kv:         opts.KV,
		summarizer: opts.Summarizer,
		notifier:   opts.Notifier,
		ttl:        ttl,
		log:        opts.Logger,
	}
}

func metadataKey(callSID string) string {
	return fmt.Sprintf("call:meta:%s", callSID)
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("call:conversation:%s", conversationID)
}

// =============================================================================
// Correlation
// =============================================================================

// StoreCallMetadata remembers who a call was placed to.
func (s *Service) StoreCallMetadata(ctx context.Context, callSID, clientName, phoneNumber string) error {
	if callSID == "" {
		return fmt.Errorf("%w: empty call sid", ErrInvalidArgument)
	}
	return s.kv.Set(ctx, metadataKey(callSID), map[string]string{
		fieldCallSID:     callSID,
		fieldClientName:  clientName,
		fieldPhoneNumber: phoneNumber,
	}, s.ttl)
}

// CallInitiated stores metadata for a freshly placed call and tells
// dashboards about it.
func (s *Service) CallInitiated(ctx context.Context, callSID, clientName, phoneNumber, status string) error {
	if err := s.StoreCallMetadata(ctx, callSID, clientName, phoneNumber); err != nil {
		return err
	}
	s.broadcast("call_in_progress", map[string]string{
		fieldCallSID:     callSID,
		fieldClientName:  clientName,
		fieldPhoneNumber: phoneNumber,
		"status":         status,
	})
	return nil
}

// LinkConversationToCall records which call a conversation belongs to.
func (s *Service) LinkConversationToCall(ctx context.Context, conversationID, callSID string) error {
	if conversationID == "" || callSID == "" {
		return fmt.Errorf("%w: empty conversation id or call sid", ErrInvalidArgument)
	}
	if err := s.kv.Set(ctx, conversationKey(conversationID), map[string]string{fieldCallSID: callSID}, s.ttl); err != nil {
		return err
	}
	s.log.Info().
		Str("conversation_id", conversationID).
		Str("call_sid", callSID).
		Msg("Linked conversation to call")
	return nil
}

// MetadataByConversation returns the metadata of the call a conversation
// is linked to, or nil if either piece is unknown or expired.
func (s *Service) MetadataByConversation(ctx context.Context, conversationID string) (*models.CallMetadata, error) {
	link, err := s.kv.Get(ctx, conversationKey(conversationID))
	if err != nil || link == nil {
		return nil, err
	}
	callSID := link[fieldCallSID]

	fields, err := s.kv.Get(ctx, metadataKey(callSID))
	if err != nil || fields == nil {
		return nil, err
	}
	return &models.CallMetadata{
		CallSID:        callSID,
		ClientName:     fields[fieldClientName],
		PhoneNumber:    fields[fieldPhoneNumber],
		ConversationID: conversationID,
	}, nil
}

// Cleanup forgets a conversation and the call metadata linked to it.
func (s *Service) Cleanup(ctx context.Context, conversationID string) error {
	keys := []string{conversationKey(conversationID)}

	link, err := s.kv.Get(ctx, conversationKey(conversationID))
	if err != nil {
		return err
	}
	if callSID := link[fieldCallSID]; callSID != "" {
		keys = append(keys, metadataKey(callSID))
	}
	return s.kv.Delete(ctx, keys...)
}

// =============================================================================
// Call Records
// =============================================================================

// Complete turns a post-call webhook into a stored call record, then
// drops the call's correlation data and broadcasts the record.
func (s *Service) Complete(ctx context.Context, payload *webhook.Payload) (*models.CallRecord, error) {
	conversationID := payload.Data.ConversationID
	log := s.log.With().Str("conversation_id", conversationID).Logger()

	meta, err := s.MetadataByConversation(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load call metadata")
	}

	record := &models.CallRecord{
		CallID:           conversationID,
		ClientName:       unknownClientName,
		Transcript:       payload.Transcript(),
		Insights:         insightsFrom(payload),
		ConversionStatus: payload.Outcome() == webhook.OutcomeSuccess,
		Timestamp:        payload.Timestamp(),
	}

	switch {
	case meta != nil:
		record.ClientName = orDefault(meta.ClientName, unknownClientName)
		record.PhoneNumber = meta.PhoneNumber
		record.CallSID = meta.CallSID
	default:
		log.Warn().Msg("No stored metadata for conversation, falling back to payload")
		record.ClientName = orDefault(payload.DynamicVariable(fieldClientName), unknownClientName)
		record.PhoneNumber = payload.DynamicVariable(fieldPhoneNumber)
	}

	s.summarize(ctx, log, record)

	saved, err := s.repo.UpsertCallRecord(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to store call record: %w", err)
	}
	log.Info().Str("client_name", saved.ClientName).Bool("converted", saved.ConversionStatus).Msg("Call record stored")

	if err := s.Cleanup(ctx, conversationID); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up call metadata")
	}

	s.broadcast("call_completed", saved)
	return saved, nil
}

func (s *Service) summarize(ctx context.Context, log zerolog.Logger, record *models.CallRecord) {
	if s.summarizer == nil {
		return
	}
	analysis, err := s.summarizer.Analyze(ctx, record.Transcript)
	if err != nil {
		log.Warn().Err(err).Msg("Transcript analysis failed, storing without summary")
		return
	}
	if analysis.Summary != "" {
		record.Summary = &analysis.Summary
	}
	if analysis.FollowUpDate != "" {
		record.FollowUpDate = &analysis.FollowUpDate
	}
}

func insightsFrom(payload *webhook.Payload) models.Insights {
	insights := models.Insights{
		Sentiment:   models.SentimentNeutral,
		Topics:      []string{},
		DurationSec: payload.Data.Metadata.CallDurationSecs,
	}

	switch payload.Outcome() {
	case webhook.OutcomeSuccess:
		insights.Sentiment = models.SentimentPositive
	case webhook.OutcomeFailure:
		insights.Sentiment = models.SentimentNegative
	}
	if a := payload.Data.Analysis; a != nil && a.CallSummaryTitle != "" {
		insights.Topics = []string{a.CallSummaryTitle}
	}
	return insights
}

// List returns one page of call records, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) (*models.CallPage, error) {
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page must be >= 1 and page_size between 1 and %d", ErrInvalidArgument, MaxPageSize)
	}
	items, total, err := s.repo.ListCallRecords(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &models.CallPage{Page: page, PageSize: pageSize, Total: total, Items: items}, nil
}

// Get returns one call record.
func (s *Service) Get(ctx context.Context, callID string) (*models.CallRecord, error) {
	return s.repo.GetCallRecord(ctx, callID)
}

// Summary returns conversion statistics.
func (s *Service) Summary(ctx context.Context) (*models.CallSummary, error) {
	return s.repo.Summary(ctx)
}

func (s *Service) broadcast(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
