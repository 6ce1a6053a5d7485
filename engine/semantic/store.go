// Package semantic is the sole owner of all Qdrant operations: collection
// lifecycle, batched vector writes, and nearest-neighbor search.
package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultSettle is how long Rebuild waits after deleting a collection
// before recreating it. Deletion is not guaranteed to be consistent with
// an immediate recreate.
const DefaultSettle = time.Second

// PointsAPI is the slice of the Qdrant points client the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the slice of the Qdrant collections client the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store wraps a Qdrant collection holding document vectors.
type Store struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
	settle      time.Duration
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		settle:      DefaultSettle,
	}, nil
}

// NewWithClients creates a Store from pre-built clients. Used in tests.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *Store {
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
	}
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("semantic: qdrant unreachable: %w", err)
	}
	return nil
}

// Rebuild deletes the collection if it exists, waits for the deletion to
// settle, and recreates it empty with the fixed schema. Vectors are always
// supplied by the caller; the index never computes them. Rebuilding twice
// leaves the same empty state.
func (s *Store) Rebuild(ctx context.Context, dims int) error {
	exists, err := s.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{
			CollectionName: s.collection,
		}); err != nil {
			return fmt.Errorf("semantic: delete collection %s: %w", s.collection, err)
		}
		if err := s.waitSettle(ctx); err != nil {
			return err
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}

	// Keyword index on the stable doc ID so search can return it cheaply.
	fieldType := pb.FieldType_FieldTypeKeyword
	wait := true
	if _, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      FieldDocID,
		FieldType:      &fieldType,
		Wait:           &wait,
	}); err != nil {
		return fmt.Errorf("semantic: index %s: %w", FieldDocID, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) waitSettle(ctx context.Context) error {
	if s.settle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settle):
		return nil
	}
}

// Upsert writes document records into the collection and waits for the
// write to be applied. Point IDs are derived deterministically from the
// stable doc ID, so re-writing a document overwrites instead of
// duplicating.
func (s *Store) Upsert(ctx context.Context, records []DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.DocID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				FieldTitle: {Kind: &pb.Value_StringValue{StringValue: r.Title}},
				FieldText:  {Kind: &pb.Value_StringValue{StringValue: r.Text}},
				FieldDocID: {Kind: &pb.Value_StringValue{StringValue: r.DocID}},
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search runs a nearest-neighbor query for the given vector and returns
// up to limit hits with their stable doc ID and similarity score.
func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{FieldDocID}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{
			DocID: r.GetPayload()[FieldDocID].GetStringValue(),
			Score: r.GetScore(),
		}
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// PointID derives the deterministic Qdrant point UUID for a doc ID.
func PointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

// SetSettle overrides the post-delete settle wait. Zero disables it.
func (s *Store) SetSettle(d time.Duration) { s.settle = d }
