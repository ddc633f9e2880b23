package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"santa-workshop/internal/domain"
)

const (
	skPrefixTurn    = "TURN#"
	skMeta          = "META#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
	batchSize       = 25
	maxBatchRetries = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK returns the sort key for a turn. Zero padding keeps lexical order
// equal to sequence order.
func turnSK(seq int) string {
	return fmt.Sprintf("%s%08d", skPrefixTurn, seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// CreateSession writes the metadata record for a new session.
func (c *Client) CreateSession(ctx context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.metaItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// GetSession reads the session metadata record.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       metaKey(sessionID),
		// The turn counter drives sequence numbers, so read it strongly.
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	s.ID = sessionID
	return s, nil
}

// AppendTurn writes the turn and bumps the session counter in one transaction.
// The turn's Seq must be set by the caller; a duplicate sequence fails.
func (c *Client) AppendTurn(ctx context.Context, sessionID string, t domain.Turn) error {
	if t.Seq <= 0 {
		return errors.New("repository: AppendTurn: turn sequence must be positive")
	}
	now := c.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                c.turnItem(sessionID, t),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 metaKey(sessionID),
					UpdateExpression:    aws.String("SET lastActivity = :now, #ttl = :ttl ADD turns :one"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		if metaConditionFailed(err) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// metaConditionFailed reports whether the transaction was cancelled because
// the session metadata record does not exist.
func metaConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || len(tce.CancellationReasons) < 2 {
		return false
	}
	return aws.ToString(tce.CancellationReasons[1].Code) == "ConditionalCheckFailed"
}

// ListTurns returns the most recent limit turns in chronological order.
// A non-positive limit returns the whole conversation.
func (c *Client) ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return c.listAllTurns(ctx, sessionID)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: turnQueryValues(sessionID),
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns query: %w", err)
	}

	turns, err := itemsToTurns(out.Items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (c *Client) listAllTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var (
		turns    []domain.Turn
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: turnQueryValues(sessionID),
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListTurns query: %w", err)
		}
		page, err := itemsToTurns(out.Items)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
		}
		turns = append(turns, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// DeleteSession removes the metadata record and every turn of a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	keys, err := c.sessionKeys(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	if len(keys) == 0 {
		return domain.ErrSessionNotFound
	}

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		if err := c.batchDelete(ctx, requests); err != nil {
			return fmt.Errorf("repository: DeleteSession: %w", err)
		}
	}
	return nil
}

func (c *Client) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	for attempt := 0; len(requests) > 0; attempt++ {
		if attempt == maxBatchRetries {
			return fmt.Errorf("batch delete: %d items still unprocessed", len(requests))
		}
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: requests},
		})
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
		if out == nil {
			return nil
		}
		requests = out.UnprocessedItems[c.tableName]
	}
	return nil
}

func (c *Client) sessionKeys(ctx context.Context, sessionID string) ([]map[string]types.AttributeValue, error) {
	var (
		keys     []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query keys: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func metaKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func turnQueryValues(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
	}
}

func (c *Client) metaItem(s domain.Session) map[string]types.AttributeValue {
	created := s.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	last := s.LastActivity
	if last.IsZero() {
		last = created
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: s.ID},
		"createdAt":    &types.AttributeValueMemberS{Value: created.UTC().Format(time.RFC3339Nano)},
		"lastActivity": &types.AttributeValueMemberS{Value: last.UTC().Format(time.RFC3339Nano)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func (c *Client) turnItem(sessionID string, t domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(t.Seq)},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(t.Seq)},
		"speaker":   &types.AttributeValueMemberS{Value: string(t.Speaker)},
		"text":      &types.AttributeValueMemberS{Value: t.Text},
		"synthetic": &types.AttributeValueMemberBOOL{Value: t.Synthetic},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if t.Media != nil {
		item["mediaKind"] = &types.AttributeValueMemberS{Value: string(t.Media.Kind)}
		item["mediaMime"] = &types.AttributeValueMemberS{Value: t.Media.MIMEType}
		item["mediaSize"] = &types.AttributeValueMemberN{Value: strconv.Itoa(t.Media.Size)}
	}
	if t.Action != nil {
		item["actionKind"] = &types.AttributeValueMemberS{Value: string(t.Action.Kind)}
		item["actionProduct"] = &types.AttributeValueMemberS{Value: t.Action.ProductName}
		item["actionPrice"] = &types.AttributeValueMemberS{Value: t.Action.Price}
	}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Session{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	last, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{CreatedAt: created, LastActivity: last, Turns: turns}, nil
}

func itemsToTurns(items []map[string]types.AttributeValue) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(items))
	for _, item := range items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	speaker, err := strAttr(item, "speaker")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	created, _ := timeAttr(item, "createdAt") // allow missing

	t := domain.Turn{
		Seq:       seq,
		Speaker:   domain.Speaker(speaker),
		Text:      text,
		CreatedAt: created,
	}
	if b, ok := item["synthetic"].(*types.AttributeValueMemberBOOL); ok {
		t.Synthetic = b.Value
	}
	if kind, err := strAttr(item, "mediaKind"); err == nil {
		mime, _ := strAttr(item, "mediaMime")
		size, _ := intAttr(item, "mediaSize")
		t.Media = &domain.MediaRef{Kind: domain.MediaKind(kind), MIMEType: mime, Size: size}
	}
	if kind, err := strAttr(item, "actionKind"); err == nil {
		product, _ := strAttr(item, "actionProduct")
		price, _ := strAttr(item, "actionPrice")
		t.Action = &domain.ActionPayload{Kind: domain.ActionKind(kind), ProductName: product, Price: price}
	}
	return t, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
