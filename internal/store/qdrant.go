package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// chunkIDNamespace derives deterministic Qdrant point UUIDs from chunk ids,
// keeping upserts idempotent across processes.
var chunkIDNamespace = uuid.MustParse("8d7b0c52-6d0e-4f6a-9b38-1f2de0a4c3b1")

// QdrantStore implements VectorStore against a remote Qdrant instance.
// Chunk ids travel in the payload under "_id"; point ids are UUIDs derived
// from them.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// Verify interface implementation at compile time.
var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, addr, collection string, dims int) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}

	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

func pointID(chunkID string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{
			Uuid: uuid.NewSHA1(chunkIDNamespace, []byte(chunkID)).String(),
		},
	}
}

// Upsert inserts or replaces entries by id.
func (s *QdrantStore) Upsert(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(e.Vector)}
		}

		payload := make(map[string]*pb.Value, len(e.Metadata)+1)
		payload["_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: e.ID}}
		for k, v := range e.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}

		points[i] = &pb.PointStruct{
			Id: pointID(e.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: e.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return syncerrors.VectorError(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	return nil
}

// Search performs k-NN similarity search.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, syncerrors.VectorError("vector search", err)
	}

	results := make([]*VectorResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		vr := &VectorResult{
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			if k == "_id" {
				vr.ID = v.GetStringValue()
				continue
			}
			vr.Metadata[k] = v.GetStringValue()
		}
		if vr.ID == "" {
			continue // foreign point without our payload
		}
		results = append(results, vr)
	}
	return results, nil
}

// Delete removes vectors by id. Absent ids are not an error.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return syncerrors.VectorError(fmt.Sprintf("delete %d points", len(ids)), err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, syncerrors.VectorError("count points", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}
