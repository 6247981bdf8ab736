//go:build e2e

// Package e2e contains end-to-end integration tests against a real DynamoDB
// table, either in AWS or DynamoDB Local.
// Run with: WEAVE_DYNAMODB_ENDPOINT=http://localhost:8000 go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/weave/ident"
	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/stream"
)

// Table names are unique per test run to avoid conflicts.
const tablePrefix = "weave-e2e-test"

var (
	testConfig store.Config
	ddbClient  *dynamodb.Client
	testStore  *store.Store
	registry   *store.Registry
	logger     = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// --- Test Documents ---

// Studio is the user payload of a studio node.
type Studio struct {
	Name  string `dynamodbav:"name"`
	Slug  string `dynamodbav:"slug"`
	Plays int    `dynamodbav:"plays"`
}

// nodeRow is the decoded form of a node row.
type nodeRow struct {
	PK        string   `dynamodbav:"__pk"`
	SK        string   `dynamodbav:"__sk"`
	Type      string   `dynamodbav:"__type"`
	CreatedAt string   `dynamodbav:"__created_at"`
	UpdatedAt string   `dynamodbav:"__updated_at"`
	OwnedBy   []string `dynamodbav:"__owned_by,stringset"`
	GSI1PK    string   `dynamodbav:"__gsi1pk"`
	GSI2PK    string   `dynamodbav:"__gsi2pk"`
	Name      string   `dynamodbav:"name"`
	Plays     int      `dynamodbav:"plays"`
}

// relationRow is the decoded form of a relation row.
type relationRow struct {
	PK            string   `dynamodbav:"__pk"`
	SK            string   `dynamodbav:"__sk"`
	CreatedAt     string   `dynamodbav:"__created_at"`
	RelationNames []string `dynamodbav:"__relation_names,stringset"`
}

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testConfig = store.ConfigFromEnv()
	testConfig.Dialect = store.DialectDynamoDB
	testConfig.TableName = fmt.Sprintf("%s-%s", tablePrefix, uuid.New().String()[:8])
	if testConfig.Endpoint != "" && testConfig.Region == "" {
		testConfig.Region = "us-east-1"
	}

	fmt.Printf("Table: %s\n", testConfig.TableName)

	ctx := context.Background()
	var err error
	ddbClient, err = store.NewDynamoClient(ctx, testConfig)
	if err != nil {
		fmt.Printf("Failed to create DynamoDB client: %v\n", err)
		os.Exit(1)
	}

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	testStore, err = store.Open(ctx, testConfig, logger)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}

	registry = store.NewRegistry()
	if err := registry.Register(store.UniqueConstraint{Type: "studio", Fields: []string{"slug"}}); err != nil {
		fmt.Printf("Failed to register constraint: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := deleteTable(ctx); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}

	os.Exit(code)
}

func createTable(ctx context.Context) error {
	f := store.Fields
	attr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}
	index := func(name, pk, sk string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(sk), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}
	}

	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(testConfig.TableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(f.PK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(f.SK), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			attr(f.PK), attr(f.SK),
			attr(f.TypeIndexPK), attr(f.TypeIndexSK),
			attr(f.InvertedIndexPK), attr(f.InvertedIndexSK),
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			index(testConfig.TypeIndexName, f.TypeIndexPK, f.TypeIndexSK),
			index(testConfig.InvertedIndexName, f.InvertedIndexPK, f.InvertedIndexSK),
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", testConfig.TableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(testConfig.TableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table %s: %w", testConfig.TableName, err)
	}
	return nil
}

func deleteTable(ctx context.Context) error {
	_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(testConfig.TableName),
	})
	return err
}

// --- Helpers ---

func newStudio(t *testing.T, name, slug string) (ident.NodeID, store.Item) {
	t.Helper()
	item, err := attributevalue.MarshalMap(Studio{Name: name, Slug: slug})
	if err != nil {
		t.Fatalf("MarshalMap: %v", err)
	}
	return ident.NewNodeID("studio"), item
}

func getRow(t *testing.T, key store.RowKey, out any) bool {
	t.Helper()
	res, err := ddbClient.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      aws.String(testConfig.TableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			store.Fields.PK: &types.AttributeValueMemberS{Value: key.PK},
			store.Fields.SK: &types.AttributeValueMemberS{Value: key.SK},
		},
	})
	if err != nil {
		t.Fatalf("GetItem(%s): %v", key, err)
	}
	if res.Item == nil {
		return false
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
			t.Fatalf("UnmarshalMap(%s): %v", key, err)
		}
	}
	return true
}

func insertStudio(t *testing.T, auth store.Authorizer, id ident.NodeID, item store.Item) {
	t.Helper()
	err := testStore.ToTransaction(context.Background(), auth, store.NodeKey(id),
		&store.InsertNode{ID: id.ID, Type: id.Type, Item: item})
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
}

// --- Node Tests ---

func TestInsertNode(t *testing.T) {
	id, item := newStudio(t, "Acme", "acme-"+uuid.New().String())
	insertStudio(t, store.OwnerBased("ada"), id, item)

	var row nodeRow
	if !getRow(t, store.NodeKey(id), &row) {
		t.Fatal("expected node row")
	}
	if row.Type != "studio" || row.GSI1PK != "studio" || row.GSI2PK != id.String() {
		t.Errorf("unexpected reserved attributes: %+v", row)
	}
	if row.CreatedAt == "" || row.UpdatedAt == "" {
		t.Error("expected timestamps to be set")
	}
	if len(row.OwnedBy) != 1 || row.OwnedBy[0] != "ada" {
		t.Errorf("expected owners [ada], got %v", row.OwnedBy)
	}
	if row.Name != "Acme" {
		t.Errorf("expected name Acme, got %q", row.Name)
	}
}

func TestUpdateNode_FieldsAndIncrements(t *testing.T) {
	ctx := context.Background()
	id, item := newStudio(t, "Acme", "acme-"+uuid.New().String())
	insertStudio(t, store.Unrestricted(), id, item)

	var before nodeRow
	getRow(t, store.NodeKey(id), &before)

	rename := store.Item{"name": &types.AttributeValueMemberS{Value: "Acme Two"}}
	err := testStore.ToTransaction(ctx, store.Unrestricted(), store.NodeKey(id),
		&store.UpdateNode{ID: id.ID, Type: id.Type, Item: rename, Now: time.Now().Add(time.Second)},
		&store.UpdateNode{ID: id.ID, Type: id.Type, Increments: store.Increments{"plays": "3"}},
		&store.UpdateNode{ID: id.ID, Type: id.Type, Increments: store.Increments{"plays": "2"}},
	)
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	var after nodeRow
	getRow(t, store.NodeKey(id), &after)
	if after.Name != "Acme Two" {
		t.Errorf("expected name 'Acme Two', got %q", after.Name)
	}
	if after.Plays != 5 {
		t.Errorf("expected plays 5, got %d", after.Plays)
	}
	if after.CreatedAt != before.CreatedAt {
		t.Errorf("created_at changed from %q to %q", before.CreatedAt, after.CreatedAt)
	}
	if after.UpdatedAt == before.UpdatedAt {
		t.Error("expected updated_at to change")
	}
}

func TestUpdateNode_MissingRow(t *testing.T) {
	id := ident.NewNodeID("studio")
	err := testStore.ToTransaction(context.Background(), store.Unrestricted(), store.NodeKey(id),
		&store.UpdateNode{ID: id.ID, Type: id.Type, Item: store.Item{"name": &types.AttributeValueMemberS{Value: "x"}}})

	var txErr *store.TransactionError
	if !errors.As(err, &txErr) || !txErr.Conditional {
		t.Fatalf("expected conditional TransactionError, got %v", err)
	}
	if getRow(t, store.NodeKey(id), nil) {
		t.Error("update must not create the row")
	}
}

func TestUpdateNode_OtherOwnerRejected(t *testing.T) {
	ctx := context.Background()
	id, item := newStudio(t, "Acme", "acme-"+uuid.New().String())
	ada := store.OwnerBased("ada")
	bob := store.OwnerBased("bob")
	insertStudio(t, ada, id, item)

	update := &store.UpdateNode{ID: id.ID, Type: id.Type, Item: store.Item{"name": &types.AttributeValueMemberS{Value: "Bob's"}}}
	err := testStore.ToTransaction(ctx, bob, store.NodeKey(id), update)
	var txErr *store.TransactionError
	if !errors.As(err, &txErr) || !txErr.Conditional {
		t.Fatalf("expected conditional TransactionError, got %v", err)
	}

	if err := testStore.ToTransaction(ctx, ada, store.NodeKey(id), update); err != nil {
		t.Fatalf("owner update failed: %v", err)
	}
}

func TestDeleteNode_Idempotent(t *testing.T) {
	ctx := context.Background()
	id, item := newStudio(t, "Acme", "acme-"+uuid.New().String())
	insertStudio(t, store.Unrestricted(), id, item)

	del := &store.DeleteNode{ID: id.ID, Type: id.Type}
	if err := testStore.ToTransaction(ctx, store.Unrestricted(), store.NodeKey(id), del); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if getRow(t, store.NodeKey(id), nil) {
		t.Error("expected node row to be deleted")
	}

	err := testStore.ToTransaction(ctx, store.Unrestricted(), store.NodeKey(id), del)
	if !errors.Is(err, store.ErrTransaction) {
		t.Errorf("expected ErrTransaction for second delete, got %v", err)
	}
}

// --- Unique Constraint Tests ---

func TestUniqueConstraint_Enforced(t *testing.T) {
	ctx := context.Background()
	slug := "dup-" + uuid.New().String()

	first, item := newStudio(t, "First", slug)
	claims, err := registry.Claims(first, item, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
	if err := testStore.Apply(ctx, store.Unrestricted(), claims); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	second, item := newStudio(t, "Second", slug)
	claims, err = registry.Claims(second, item, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	err = testStore.Apply(ctx, store.Unrestricted(), claims)
	var violation *store.UniqueConstraintViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected UniqueConstraintViolation, got %v", err)
	}
	if violation.Type != "studio" || len(violation.Values) != 1 || violation.Values[0] != slug {
		t.Errorf("unexpected violation %+v", violation)
	}

	// Releasing the slug lets the second studio claim it.
	releases, err := registry.Releases("studio", item)
	if err != nil {
		t.Fatal(err)
	}
	if err := testStore.Apply(ctx, store.Unrestricted(), releases); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := testStore.Apply(ctx, store.Unrestricted(), claims); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

// --- Relation Tests ---

func TestRelation_Lifecycle(t *testing.T) {
	ctx := context.Background()
	studioID, item := newStudio(t, "Acme", "acme-"+uuid.New().String())
	insertStudio(t, store.Unrestricted(), studioID, item)
	title := ident.NewNodeID("title")
	key := store.RelationKey(studioID, title)

	insert := &store.InsertRelation{FromType: "studio", ToType: "title", RelationNames: []string{"owns"}}
	if err := testStore.ToTransaction(ctx, store.Unrestricted(), key, insert); err != nil {
		t.Fatalf("InsertRelation: %v", err)
	}

	var first relationRow
	if !getRow(t, key, &first) {
		t.Fatal("expected relation row")
	}

	more := &store.InsertRelation{FromType: "studio", ToType: "title", RelationNames: []string{"publishes"}, Now: time.Now().Add(time.Minute)}
	if err := testStore.ToTransaction(ctx, store.Unrestricted(), key, more); err != nil {
		t.Fatalf("second InsertRelation: %v", err)
	}
	var second relationRow
	getRow(t, key, &second)
	if len(second.RelationNames) != 2 {
		t.Errorf("expected 2 relation names, got %v", second.RelationNames)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Errorf("created_at changed from %q to %q", first.CreatedAt, second.CreatedAt)
	}

	update := &store.UpdateRelation{Add: []string{"archives"}, Remove: []string{"owns"}}
	if err := testStore.ToTransaction(ctx, store.Unrestricted(), key, update); err != nil {
		t.Fatalf("UpdateRelation: %v", err)
	}
	var third relationRow
	getRow(t, key, &third)
	names := map[string]bool{}
	for _, n := range third.RelationNames {
		names[n] = true
	}
	if !names["archives"] || !names["publishes"] || names["owns"] {
		t.Errorf("unexpected relation names %v", third.RelationNames)
	}

	if err := testStore.ToTransaction(ctx, store.Unrestricted(), key, &store.DeleteAllRelations{}); err != nil {
		t.Fatalf("DeleteAllRelations: %v", err)
	}
	if getRow(t, key, nil) {
		t.Error("expected relation row to be deleted")
	}
}

// --- Stream Cleanup Tests ---

func TestNodeRemoval_CleansUpDependentRows(t *testing.T) {
	ctx := context.Background()
	studioID, item := newStudio(t, "Doomed", "doomed-"+uuid.New().String())
	insertStudio(t, store.Unrestricted(), studioID, item)

	claims, err := registry.Claims(studioID, item, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	title := ident.NewNodeID("title")
	changes := append(claims,
		store.KeyedChange{
			Key:    store.RelationKey(studioID, title),
			Change: &store.InsertRelation{FromType: "studio", ToType: "title", RelationNames: []string{"owns"}},
		},
		store.KeyedChange{
			Key:    store.RelationKey(title, studioID),
			Change: &store.InsertRelation{FromType: "title", ToType: "studio", RelationNames: []string{"owned_by"}},
		},
	)
	if err := testStore.Apply(ctx, store.Unrestricted(), changes); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	nodeKey := store.NodeKey(studioID)
	if err := testStore.ToTransaction(ctx, store.Unrestricted(), nodeKey,
		&store.DeleteNode{ID: studioID.ID, Type: studioID.Type}); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}

	handler := stream.NewHandler(testStore, ddbClient, logger)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventID:   "1",
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{Keys: map[string]events.DynamoDBAttributeValue{
			store.Fields.PK: events.NewStringAttribute(nodeKey.PK),
			store.Fields.SK: events.NewStringAttribute(nodeKey.SK),
		}},
	}}}

	// The inverted index is eventually consistent.
	deadline := time.Now().Add(30 * time.Second)
	for {
		if err := handler.HandleNodeRemoval(ctx, event); err != nil {
			t.Fatalf("HandleNodeRemoval: %v", err)
		}
		remaining := 0
		for _, c := range changes {
			if getRow(t, c.Key, nil) {
				remaining++
			}
		}
		if remaining == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d dependent rows left after cleanup", remaining)
		}
		time.Sleep(time.Second)
	}
}
