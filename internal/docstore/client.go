// Package docstore archives raw statement files and load-session records in
// Firestore.
package docstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

const (
	statementFilesCollection = "bankload-statement-files"
	loadSessionsCollection   = "bankload-load-sessions"
)

// Client wraps Firestore with statement-archive operations. The caller owns
// the lifecycle: create one per run and Close it when done.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient creates a new Firestore client. Credentials come from Application
// Default Credentials unless credsPath names a service account file.
func NewClient(ctx context.Context, projectID, credsPath string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// StatementFile is one archived raw statement file. The document ID is
// derived from the key triple so a re-upload of the same period replaces the
// previous copy.
type StatementFile struct {
	CutoffPeriod  string             `firestore:"cutoffPeriod"`
	AccountNumber string             `firestore:"accountNumber"`
	Type          domain.AccountType `firestore:"type"`
	FileName      string             `firestore:"fileName"`
	Digest        string             `firestore:"digest"`
	Content       []byte             `firestore:"content"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
}

// Validate checks if the StatementFile has valid data
func (s *StatementFile) Validate() error {
	if s.CutoffPeriod == "" {
		return fmt.Errorf("cutoff period is required")
	}
	if s.AccountNumber == "" {
		return fmt.Errorf("account number is required")
	}
	if !domain.ValidateAccountType(s.Type) {
		return fmt.Errorf("invalid account type: %s", s.Type)
	}
	return nil
}

func statementDocID(period, account string, accType domain.AccountType) string {
	return fmt.Sprintf("%s_%s_%s", period, account, accType)
}

// PutStatementFile stores a raw statement file, replacing any previous copy
// for the same (cutoff period, account, type) key.
func (c *Client) PutStatementFile(ctx context.Context, file *StatementFile) error {
	if err := file.Validate(); err != nil {
		return fmt.Errorf("invalid statement file: %w", err)
	}
	file.UpdatedAt = time.Now().UTC()

	docID := statementDocID(file.CutoffPeriod, file.AccountNumber, file.Type)
	_, err := c.Firestore.Collection(statementFilesCollection).Doc(docID).Set(ctx, file)
	return err
}

// GetStatementFile retrieves the archived file for a key triple.
func (c *Client) GetStatementFile(ctx context.Context, period, account string, accType domain.AccountType) (*StatementFile, error) {
	docID := statementDocID(period, account, accType)
	doc, err := c.Firestore.Collection(statementFilesCollection).Doc(docID).Get(ctx)
	if err != nil {
		return nil, err
	}

	var file StatementFile
	if err := doc.DataTo(&file); err != nil {
		return nil, fmt.Errorf("failed to parse statement file: %w", err)
	}
	return &file, nil
}

// ListStatementFiles retrieves the archived files for an account, newest
// period first.
func (c *Client) ListStatementFiles(ctx context.Context, account string) ([]*StatementFile, error) {
	iter := c.Firestore.Collection(statementFilesCollection).
		Where("accountNumber", "==", account).
		OrderBy("cutoffPeriod", firestore.Desc).
		Documents(ctx)

	var files []*StatementFile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate statement files for account %s: %w", account, err)
		}

		var file StatementFile
		if err := doc.DataTo(&file); err != nil {
			return nil, fmt.Errorf("failed to parse statement file: %w", err)
		}
		files = append(files, &file)
	}

	return files, nil
}

// LoadSessionStatus represents the status of a load session
type LoadSessionStatus string

const (
	LoadSessionStatusPending    LoadSessionStatus = "pending"
	LoadSessionStatusProcessing LoadSessionStatus = "processing"
	LoadSessionStatusCompleted  LoadSessionStatus = "completed"
	LoadSessionStatusError      LoadSessionStatus = "error"
	LoadSessionStatusCancelled  LoadSessionStatus = "cancelled"
)

// LoadSession records one ingestion run for audit.
type LoadSession struct {
	ID          string            `firestore:"id"`
	Status      LoadSessionStatus `firestore:"status"`
	FileCount   int               `firestore:"fileCount"`
	Stats       map[string]int    `firestore:"stats"`
	CompletedAt *time.Time        `firestore:"completedAt,omitempty"`
	Error       string            `firestore:"error,omitempty"`
	CreatedAt   time.Time         `firestore:"createdAt"`
}

// Validate checks if the LoadSession has valid data
func (s *LoadSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	validStatuses := map[LoadSessionStatus]bool{
		LoadSessionStatusPending:    true,
		LoadSessionStatusProcessing: true,
		LoadSessionStatusCompleted:  true,
		LoadSessionStatusError:      true,
		LoadSessionStatusCancelled:  true,
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("invalid status: %s", s.Status)
	}

	if s.FileCount < 0 {
		return fmt.Errorf("file count cannot be negative")
	}

	return nil
}

// NewLoadSession creates a pending session with a fresh ID.
func NewLoadSession() *LoadSession {
	return &LoadSession{
		ID:        uuid.NewString(),
		Status:    LoadSessionStatusPending,
		Stats:     map[string]int{},
		CreatedAt: time.Now().UTC(),
	}
}

// CreateLoadSession creates a new load session
func (c *Client) CreateLoadSession(ctx context.Context, session *LoadSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid load session: %w", err)
	}
	_, err := c.Firestore.Collection(loadSessionsCollection).Doc(session.ID).Set(ctx, session)
	return err
}

// UpdateLoadSession updates an existing load session
func (c *Client) UpdateLoadSession(ctx context.Context, session *LoadSession) error {
	_, err := c.Firestore.Collection(loadSessionsCollection).Doc(session.ID).Set(ctx, session)
	return err
}

// GetLoadSession retrieves a load session by ID
func (c *Client) GetLoadSession(ctx context.Context, sessionID string) (*LoadSession, error) {
	doc, err := c.Firestore.Collection(loadSessionsCollection).Doc(sessionID).Get(ctx)
	if err != nil {
		return nil, err
	}

	var session LoadSession
	if err := doc.DataTo(&session); err != nil {
		return nil, fmt.Errorf("failed to parse load session: %w", err)
	}
	return &session, nil
}

// ListLoadSessions retrieves the most recent load sessions, newest first.
func (c *Client) ListLoadSessions(ctx context.Context, limit int) ([]*LoadSession, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := c.Firestore.Collection(loadSessionsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)

	var sessions []*LoadSession
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate load sessions: %w", err)
		}

		var sess LoadSession
		if err := doc.DataTo(&sess); err != nil {
			return nil, fmt.Errorf("failed to parse load session: %w", err)
		}
		sessions = append(sessions, &sess)
	}

	return sessions, nil
}
