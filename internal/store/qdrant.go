package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// chunkIDKey is the payload key holding the original chunk id; Qdrant
// point ids must be UUIDs or integers.
const chunkIDKey = "chunk_id"

// pointNamespace seeds name-based point UUIDs.
var pointNamespace = uuid.MustParse("6f1d3a52-8c1e-4f0b-9a57-3c2e7b1d9e40")

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

// QdrantStore implements VectorStore on a Qdrant server over gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	apiKey      string
	timeout     time.Duration
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore creates a Qdrant-backed store. The connection is lazy;
// unreachable servers surface as BackendUnavailable on first use.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		apiKey:      cfg.APIKey,
		timeout:     cfg.Timeout,
	}, nil
}

// PointID maps a chunk id to its deterministic Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (s *QdrantStore) Backend() string { return BackendQdrant }

func (s *QdrantStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	if s.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
	}
	return ctx, cancel
}

// wrap classifies a gRPC failure.
func (s *QdrantStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return crerrors.BackendUnavailable(BackendQdrant, err)
	case codes.NotFound:
		return crerrors.New(crerrors.ErrCodeCollectionNotFound, "qdrant collection not found", err)
	default:
		return crerrors.New(crerrors.ErrCodeInternal, "qdrant request failed", err)
	}
}

func (s *QdrantStore) info(ctx context.Context, collection string) (*pb.CollectionInfo, bool, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()

	exists, err := s.collections.CollectionExists(cctx, &pb.CollectionExistsRequest{CollectionName: collection})
	if err != nil {
		return nil, false, s.wrap(err)
	}
	if !exists.GetResult().GetExists() {
		return nil, false, nil
	}

	resp, err := s.collections.Get(cctx, &pb.GetCollectionInfoRequest{CollectionName: collection})
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return resp.GetResult(), true, nil
}

func collectionDimension(info *pb.CollectionInfo) int {
	return int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return invalidInput("dimension must be positive")
	}
	info, ok, err := s.info(ctx, collection)
	if err != nil {
		return err
	}
	if ok {
		if dim := collectionDimension(info); dim != dimension {
			return dimensionConflict(dim, dimension)
		}
		return nil
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	_, err = s.collections.Create(cctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dimension), Distance: pb.Distance_Cosine},
		}},
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return s.wrap(err)
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	info, ok, err := s.info(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return collectionNotFound(collection)
	}
	dim := collectionDimension(info)

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if err := checkDimension(dim, r.Vector); err != nil {
			return err
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: toPayload(r.ID, r.Metadata),
		}
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	wait := true
	_, err = s.points.Upsert(cctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	return s.wrap(err)
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, ok, err := s.info(ctx, collection)
	if err != nil || !ok {
		return err
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	wait := true
	_, err = s.points.Delete(cctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: pointIDs},
		}},
	})
	return s.wrap(err)
}

// Query pushes exact-match filters to Qdrant. A path prefix cannot be
// expressed on an unindexed keyword, so it is applied here. The server
// limit starts past topK and doubles until the topK-th score is strictly
// above the last fetched score or the server runs dry, so every point
// tied at the cut reaches rank.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error) {
	info, ok, err := s.info(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Match{}, nil
	}
	if err := checkDimension(collectionDimension(info), vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	limit := searchLimit(topK, filter)
	for {
		cctx, cancel := s.call(ctx)
		resp, err := s.points.Search(cctx, &pb.SearchPoints{
			CollectionName: collection,
			Vector:         vector,
			Limit:          limit,
			Filter:         toFilter(filter),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		cancel()
		if err != nil {
			return nil, s.wrap(err)
		}

		points := resp.GetResult()
		matches := make([]Match, 0, len(points))
		for _, pt := range points {
			id, meta := fromPayload(pt.GetPayload())
			if !filter.Matches(meta) {
				continue
			}
			matches = append(matches, Match{ID: id, Score: pt.GetScore(), Metadata: meta})
		}
		matches = rank(matches, 0)
		if uint64(len(points)) < limit || cutSettled(matches, topK, points[len(points)-1].GetScore()) {
			if len(matches) > topK {
				matches = matches[:topK]
			}
			return matches, nil
		}
		limit *= 2
	}
}

// tieMargin is the minimum number of points fetched past topK.
const tieMargin = 8

// searchLimit is the first server limit for a query.
func searchLimit(topK int, filter Filter) uint64 {
	limit := topK + max(topK/2, tieMargin)
	if filter.PathPrefix != "" {
		limit *= 4
	}
	return uint64(limit)
}

// cutSettled reports whether no unfetched point can score as high as the
// topK-th ranked match. floor is the lowest score the server returned.
func cutSettled(ranked []Match, topK int, floor float32) bool {
	return len(ranked) >= topK && floor < ranked[topK-1].Score
}

func (s *QdrantStore) IDs(ctx context.Context, collection string, filter Filter) ([]string, error) {
	_, ok, err := s.info(ctx, collection)
	if err != nil || !ok {
		return nil, err
	}

	var (
		ids    []string
		offset *pb.PointId
		limit  = uint32(256)
	)
	for {
		cctx, cancel := s.call(ctx)
		resp, err := s.points.Scroll(cctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         toFilter(filter),
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		cancel()
		if err != nil {
			return nil, s.wrap(err)
		}
		for _, pt := range resp.GetResult() {
			id, meta := fromPayload(pt.GetPayload())
			if filter.Matches(meta) {
				ids = append(ids, id)
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *QdrantStore) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	info, ok, err := s.info(ctx, collection)
	if err != nil {
		return CollectionStats{}, err
	}
	if !ok {
		return CollectionStats{Name: collection}, nil
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	exact := true
	resp, err := s.points.Count(cctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return CollectionStats{}, s.wrap(err)
	}
	return CollectionStats{
		Name:      collection,
		Exists:    true,
		Dimension: collectionDimension(info),
		Count:     int(resp.GetResult().GetCount()),
	}, nil
}

// Flush is a no-op; upserts and deletes wait for the server to apply them.
func (s *QdrantStore) Flush(context.Context) error { return nil }

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func toPayload(id string, meta map[string]string) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(meta)+1)
	for k, v := range meta {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	payload[chunkIDKey] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: id}}
	return payload
}

func fromPayload(payload map[string]*pb.Value) (string, map[string]string) {
	meta := make(map[string]string, len(payload))
	var id string
	for k, v := range payload {
		if k == chunkIDKey {
			id = v.GetStringValue()
			continue
		}
		meta[k] = v.GetStringValue()
	}
	return id, meta
}

// toFilter converts exact-match conditions; nil when there are none.
func toFilter(f Filter) *pb.Filter {
	if len(f.Equals) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f.Equals))
	for k := range f.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   k,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: f.Equals[k]}},
			},
		}})
	}
	return &pb.Filter{Must: must}
}

// qdrantAddr formats host:port for logs.
func qdrantAddr(cfg QdrantConfig) string {
	return strings.TrimSpace(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
}
