package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// VectorConnectionConfig holds configuration for the Qdrant connection.
type VectorConnectionConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS     bool   // explicitly enable TLS without an API key
	Dimensions int
}

// apiKeyInterceptor creates a unary interceptor that adds the API key to
// outgoing metadata.
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// VectorRepository stores embedding points for photos, tags and description
// chunks in Qdrant.
type VectorRepository struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	collection    string
	dimensions    int
}

// NewVectorRepository creates a new VectorRepository. Supports both local
// Qdrant (insecure) and Qdrant Cloud (TLS + API key).
func NewVectorRepository(cfg *VectorConnectionConfig) (*VectorRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = defaultVectorDimension
	}

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &VectorRepository{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		collection:    cfg.Collection,
		dimensions:    dimensions,
	}, nil
}

// Close closes the gRPC connection.
func (r *VectorRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (r *VectorRepository) EnsureCollection(ctx context.Context) error {
	_, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

// UpsertPoint inserts or updates an embedding point with a flat string
// payload (kind, photo_id, model and similar routing fields).
func (r *VectorRepository) UpsertPoint(ctx context.Context, pointID string, vector []float32, payload map[string]string) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	fields := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		fields[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: fields,
		},
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// DeletePoint removes an embedding point.
func (r *VectorRepository) DeletePoint(ctx context.Context, pointID string) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}
