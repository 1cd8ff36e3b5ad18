package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"kisync/internal/config"
	"kisync/internal/kis"
	"kisync/internal/model"
)

const (
	// uploadsCollection stages raw blob content before it is linked to
	// any index. Points carry a placeholder vector; only the payload
	// matters until link time.
	uploadsCollection = "kisync_uploads"

	// metaCollection holds one point per index with its display name.
	metaCollection = "kisync_indexes"

	// collectionPrefix namespaces per-index data collections.
	collectionPrefix = "kisync_idx_"
)

// QdrantIndexClient implements the RemoteIndexClient interface against a
// Qdrant instance. Each index maps to one collection; linking chunks the
// staged blob content per the requested strategy, embeds every chunk and
// upserts the chunk points into the index collection.
type QdrantIndexClient struct {
	client   *qdrant.Client
	embedder Embedder
	provider string
}

// NewQdrantIndexClient connects to Qdrant and ensures the staging and
// meta collections exist.
func NewQdrantIndexClient(ctx context.Context, cfg config.IndexConfig, embedder Embedder) (*QdrantIndexClient, error) {
	host := cfg.QdrantHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.QdrantPort
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	c := &QdrantIndexClient{
		client:   client,
		embedder: embedder,
		provider: fmt.Sprintf("qdrant:%s:%d", host, port),
	}

	// Staging and meta collections carry placeholder vectors only.
	for _, name := range []string{uploadsCollection, metaCollection} {
		if err := c.ensureCollection(ctx, name, 1); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Provider returns a stable reference to the Qdrant instance.
func (c *QdrantIndexClient) Provider() string { return c.provider }

// Close releases the underlying gRPC connection.
func (c *QdrantIndexClient) Close() error { return c.client.Close() }

func (c *QdrantIndexClient) ensureCollection(ctx context.Context, name string, dims int) error {
	exists, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func dataCollection(indexID string) string {
	return collectionPrefix + indexID
}

// CreateIndex creates a new collection sized to the embedder and links
// any seed blobs with the default chunking strategy.
func (c *QdrantIndexClient) CreateIndex(ctx context.Context, name string, blobIDs []string) (string, error) {
	if len(blobIDs) > kis.MaxCreateBatch {
		return "", fmt.Errorf("%d initial blobs: %w", len(blobIDs), kis.ErrBatchTooLarge)
	}

	indexID := uuid.New().String()
	if err := c.ensureCollection(ctx, dataCollection(indexID), c.embedder.Dims()); err != nil {
		return "", err
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: metaCollection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(indexID),
				Vectors: qdrant.NewVectors(0),
				Payload: qdrant.NewValueMap(map[string]any{"name": name}),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recording index meta: %w", err)
	}

	if len(blobIDs) > 0 {
		if err := c.LinkBlobs(ctx, indexID, blobIDs, model.DefaultChunking); err != nil {
			return "", fmt.Errorf("linking initial blobs: %w", err)
		}
	}

	return indexID, nil
}

// RetrieveIndex returns the descriptor for an existing index. The blob
// count is the number of linked blobs, counted via their first chunk.
func (c *QdrantIndexClient) RetrieveIndex(ctx context.Context, indexID string) (*kis.IndexDescriptor, error) {
	points, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: metaCollection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(indexID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving index meta: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}

	name := ""
	if val, ok := points[0].Payload["name"]; ok {
		name = val.GetStringValue()
	}

	count, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: dataCollection(indexID),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("chunk_index", 0)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("counting linked blobs: %w", err)
	}

	return &kis.IndexDescriptor{ID: indexID, Name: name, BlobCount: int(count)}, nil
}

// DeleteIndex drops the index collection and its meta point.
func (c *QdrantIndexClient) DeleteIndex(ctx context.Context, indexID string, failSilently bool) error {
	exists, err := c.client.CollectionExists(ctx, dataCollection(indexID))
	if err != nil {
		return fmt.Errorf("checking index collection: %w", err)
	}
	if !exists {
		if failSilently {
			return nil
		}
		return fmt.Errorf("index %s: %w", indexID, kis.ErrNotFound)
	}

	if err := c.client.DeleteCollection(ctx, dataCollection(indexID)); err != nil {
		return fmt.Errorf("deleting index collection: %w", err)
	}

	_, err = c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: metaCollection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(indexID)),
	})
	if err != nil {
		return fmt.Errorf("deleting index meta: %w", err)
	}
	return nil
}

// LinkBlobs chunks the staged content of each blob, embeds the chunks
// and upserts them into the index collection. Re-linking a blob under
// the same strategy overwrites its points in place.
func (c *QdrantIndexClient) LinkBlobs(ctx context.Context, indexID string, blobIDs []string, strategy model.ChunkingStrategy) error {
	if len(blobIDs) > kis.MaxLinkBatch {
		return fmt.Errorf("%d blobs in one call: %w", len(blobIDs), kis.ErrBatchTooLarge)
	}
	if len(blobIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(blobIDs))
	for i, remoteID := range blobIDs {
		ids[i] = qdrant.NewIDUUID(remoteID)
	}

	staged, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: uploadsCollection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("fetching staged blobs: %w", err)
	}
	if len(staged) != len(blobIDs) {
		return fmt.Errorf("%d of %d blobs not uploaded", len(blobIDs)-len(staged), len(blobIDs))
	}

	var points []*qdrant.PointStruct
	for _, p := range staged {
		remoteID := p.Id.GetUuid()
		content := ""
		name := ""
		if val, ok := p.Payload["content"]; ok {
			content = val.GetStringValue()
		}
		if val, ok := p.Payload["name"]; ok {
			name = val.GetStringValue()
		}

		for i, chunk := range chunkText(content, strategy) {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunkPointID(remoteID, i)),
				Vectors: qdrant.NewVectors(c.embedder.Embed(chunk)...),
				Payload: qdrant.NewValueMap(map[string]any{
					"remote_id":   remoteID,
					"name":        name,
					"chunk_index": int64(i),
					"content":     chunk,
				}),
			})
		}
	}

	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: dataCollection(indexID),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting chunks: %w", err)
	}
	return nil
}

// UploadBlob stages blob content in the uploads collection and returns
// the staging point id as the remote id.
func (c *QdrantIndexClient) UploadBlob(ctx context.Context, blob *model.Blob, content []byte) (string, error) {
	remoteID := uuid.New().String()

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: uploadsCollection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(remoteID),
				Vectors: qdrant.NewVectors(0),
				Payload: qdrant.NewValueMap(map[string]any{
					"blob_id":      blob.ID,
					"name":         blob.Name,
					"content_type": blob.ContentType,
					"checksum":     blob.Checksum,
					"content":      string(content),
				}),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("staging blob %s: %w", blob.ID, err)
	}
	return remoteID, nil
}

// DeleteBlob removes a staged blob from the uploads collection.
func (c *QdrantIndexClient) DeleteBlob(ctx context.Context, remoteID string) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: uploadsCollection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(remoteID)),
	})
	if err != nil {
		return fmt.Errorf("deleting staged blob: %w", err)
	}
	return nil
}

// DeleteIndexEntry removes every chunk of one blob from one index.
func (c *QdrantIndexClient) DeleteIndexEntry(ctx context.Context, indexID, remoteID string) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: dataCollection(indexID),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("remote_id", remoteID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("unlinking blob %s: %w", remoteID, err)
	}
	return nil
}

// chunkPointID derives a stable point id for a chunk so re-linking a
// blob overwrites its previous chunks instead of duplicating them.
func chunkPointID(remoteID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s#%d", remoteID, chunkIndex)).String()
}

// chunkText splits text into rune windows of strategy.ChunkSize with
// strategy.ChunkOverlap runes carried between neighbors.
func chunkText(text string, strategy model.ChunkingStrategy) []string {
	runes := []rune(text)
	size := strategy.ChunkSize
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	step := size - strategy.ChunkOverlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Compile-time check that QdrantIndexClient implements kis.RemoteIndexClient
var _ kis.RemoteIndexClient = (*QdrantIndexClient)(nil)
