package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps covers in a MongoDB GridFS bucket. References are the
// hex object ids of the stored files.
type GridFSStore struct {
	db  *mongo.Database
	now func() time.Time
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewGridFSStore stores covers in the default bucket of database dbName.
func NewGridFSStore(client *mongo.Client, dbName string) *GridFSStore {
	return &GridFSStore{db: client.Database(dbName), now: time.Now}
}

func (g *GridFSStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	bucket, err := g.bucket(ctx)
	if err != nil {
		return "", err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetWriteDeadline(deadline); err != nil {
			return "", fmt.Errorf("set write deadline: %w", err)
		}
	}

	stream, err := bucket.OpenUploadStream(NewName(originalName, g.now()))
	if err != nil {
		return "", fmt.Errorf("open upload stream: %w", err)
	}

	if _, err := io.Copy(stream, r); err != nil {
		_ = stream.Abort()
		return "", fmt.Errorf("upload cover: %w", err)
	}
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("finish upload: %w", err)
	}

	id, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected gridfs file id %T", stream.FileID)
	}
	return id.Hex(), nil
}

func (g *GridFSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	objID, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil, ErrNotFound
	}

	bucket, err := g.bucket(ctx)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	stream, err := bucket.OpenDownloadStream(objID)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open download stream: %w", err)
	}
	return stream, nil
}

func (g *GridFSStore) Remove(ctx context.Context, ref string) error {
	objID, err := primitive.ObjectIDFromHex(ref)
	if err != nil {
		return nil
	}

	bucket, err := g.bucket(ctx)
	if err != nil {
		return err
	}
	if err := bucket.DeleteContext(ctx, objID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("delete cover: %w", err)
	}
	return nil
}

// Deadlines are set on the bucket, so every call gets its own.
func (g *GridFSStore) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, err := gridfs.NewBucket(g.db)
	if err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return bucket, nil
}
