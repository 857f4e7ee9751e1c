package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"launchsched/internal/domain"
)

// DefaultProjection is the set of user attributes a run needs.
var DefaultProjection = []string{
	"firstName", "lastName", "userId", "emailAddress",
	"delayDays", "delayTime", "apiKey", "listId", "templateId",
}

var ErrUserNotFound = errors.New("user not found")

type API interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type Store struct {
	DB         API
	Table      string
	Projection []string
}

func New(db API, table string) *Store {
	return &Store{DB: db, Table: table, Projection: DefaultProjection}
}

// Scan reads every user, following pagination.
func (s *Store) Scan(ctx context.Context) ([]domain.UserRecord, error) {
	in := scanInput(s.Table, s.Projection)
	p := dynamodb.NewScanPaginator(s.DB, in)

	var users []domain.UserRecord
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, domain.FetchError(fmt.Errorf("scan %s: %w", s.Table, err))
		}
		for _, item := range out.Items {
			users = append(users, decodeUser(item))
		}
	}
	return users, nil
}

// decodeUser decodes one item. A badly typed attribute fails only that user:
// the record keeps whatever string identifiers it has and carries DecodeErr.
func decodeUser(item map[string]types.AttributeValue) domain.UserRecord {
	var rec domain.UserRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return domain.UserRecord{
			UserID:       stringAttr(item, "userId"),
			EmailAddress: stringAttr(item, "emailAddress"),
			DecodeErr:    domain.ValidationError("decode user record: %w", err),
		}
	}
	return rec
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// PersistCampaignID sets campaignId on an existing user and nothing else.
// Repeating the call with the same pair leaves the item unchanged.
func (s *Store) PersistCampaignID(ctx context.Context, userID, campaignID string) (domain.UserRecord, error) {
	out, err := s.DB.UpdateItem(ctx, updateCampaignIDInput(s.Table, userID, campaignID))
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			err = fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return domain.UserRecord{}, domain.PersistenceError(fmt.Errorf("update %s: %w", s.Table, err))
	}
	var rec domain.UserRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return domain.UserRecord{}, domain.PersistenceError(fmt.Errorf("decode updated user: %w", err))
	}
	return rec, nil
}

func scanInput(table string, projection []string) *dynamodb.ScanInput {
	in := &dynamodb.ScanInput{TableName: aws.String(table)}
	if len(projection) == 0 {
		return in
	}
	names := make(map[string]string, len(projection))
	refs := make([]string, 0, len(projection))
	for i, attr := range projection {
		ref := "#p" + strconv.Itoa(i)
		names[ref] = attr
		refs = append(refs, ref)
	}
	in.ProjectionExpression = aws.String(strings.Join(refs, ", "))
	in.ExpressionAttributeNames = names
	return in
}

func updateCampaignIDInput(table, userID, campaignID string) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"userId": &types.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:    aws.String("SET campaignId = :campaignId"),
		ConditionExpression: aws.String("attribute_exists(userId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":campaignId": &types.AttributeValueMemberS{Value: campaignID},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
}
