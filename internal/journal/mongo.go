// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	mongoRecordings = "recordings"
	mongoFiles      = "files"
	mongoCounters   = "counters"
)

// Mongo stores the journal as documents. Recording ids come from a counter
// document so they stay int64 like the SQL backends.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoRecording struct {
	ID           int64      `bson:"_id"`
	Start        time.Time  `bson:"start"`
	Stop         *time.Time `bson:"stop,omitempty"`
	Folder       string     `bson:"path"`
	Channel      string     `bson:"username"`
	StreamID     string     `bson:"streamid"`
	StreamData   string     `bson:"streamdata"`
	StreamID10   string     `bson:"streamid10"`
	StreamData10 string     `bson:"streamdata10"`
}

type mongoFile struct {
	RecordingID    int64     `bson:"recording_id"`
	Name           string    `bson:"name"`
	Seq            int64     `bson:"seq"`
	Duration       float64   `bson:"duration"`
	Timestamp      time.Time `bson:"datetime"`
	ExpectedSize   int64     `bson:"size"`
	DownloadedSize int64     `bson:"downloaded"`
	Status         string    `bson:"status"`
}

// NewMongo connects, pings the primary and ensures indexes.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI))
	if err != nil {
		return nil, fmt.Errorf("journal: connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("journal: ping mongo: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(database)}
	_, err = m.db.Collection(mongoFiles).Indexes().CreateMany(pingCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recording_id", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("journal: create mongo indexes: %w", err)
	}
	return m, nil
}

func (m *Mongo) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection(mongoCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": mongoRecordings},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (m *Mongo) StartRecording(ctx context.Context, start time.Time, folder, channel string) (int64, error) {
	id, err := m.nextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate recording id: %w", err)
	}
	_, err = m.db.Collection(mongoRecordings).InsertOne(ctx, mongoRecording{
		ID:      id,
		Start:   start.UTC(),
		Folder:  folder,
		Channel: channel,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Mongo) setRecording(ctx context.Context, id int64, set bson.M) error {
	res, err := m.db.Collection(mongoRecordings).UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (m *Mongo) StopRecording(ctx context.Context, stop time.Time, id int64) error {
	return m.setRecording(ctx, id, bson.M{"stop": stop.UTC()})
}

func (m *Mongo) UpdateStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return m.setRecording(ctx, id, bson.M{"streamid": streamID, "streamdata": data})
}

func (m *Mongo) UpdateDelayedStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return m.setRecording(ctx, id, bson.M{"streamid10": streamID, "streamdata10": data})
}

func (m *Mongo) StartFile(ctx context.Context, id int64, name string, seq int64, duration float64, ts time.Time) error {
	_, err := m.db.Collection(mongoFiles).UpdateOne(ctx,
		bson.M{"recording_id": id, "name": name},
		bson.M{
			"$set": bson.M{
				"seq":      seq,
				"duration": duration,
				"datetime": ts.UTC(),
				"status":   string(StatusDownloading),
			},
			"$setOnInsert": bson.M{"size": int64(0), "downloaded": int64(0)},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) setFile(ctx context.Context, id int64, name string, set bson.M) error {
	_, err := m.db.Collection(mongoFiles).UpdateOne(ctx, bson.M{"recording_id": id, "name": name}, bson.M{"$set": set})
	return err
}

func (m *Mongo) UpdateFileExpectedSize(ctx context.Context, id int64, name string, size int64) error {
	return m.setFile(ctx, id, name, bson.M{"size": size})
}

func (m *Mongo) UpdateFileDownloadedSize(ctx context.Context, id int64, name string, size int64) error {
	return m.setFile(ctx, id, name, bson.M{"downloaded": size})
}

func (m *Mongo) UpdateFileStatus(ctx context.Context, id int64, name string, status Status) error {
	return m.setFile(ctx, id, name, bson.M{"status": string(status)})
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Recording(ctx context.Context, id int64) (*Recording, error) {
	var doc mongoRecording
	err := m.db.Collection(mongoRecordings).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &Recording{
		ID:           doc.ID,
		Start:        doc.Start,
		Stop:         doc.Stop,
		Folder:       doc.Folder,
		Channel:      doc.Channel,
		StreamID:     doc.StreamID,
		StreamData:   doc.StreamData,
		StreamID10:   doc.StreamID10,
		StreamData10: doc.StreamData10,
	}, nil
}

func (m *Mongo) Files(ctx context.Context, id int64) ([]File, error) {
	cur, err := m.db.Collection(mongoFiles).Find(ctx, bson.M{"recording_id": id},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var docs []mongoFile
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]File, 0, len(docs))
	for _, d := range docs {
		out = append(out, File{
			RecordingID:    d.RecordingID,
			Name:           d.Name,
			Seq:            d.Seq,
			Duration:       d.Duration,
			Timestamp:      d.Timestamp,
			ExpectedSize:   d.ExpectedSize,
			DownloadedSize: d.DownloadedSize,
			Status:         Status(d.Status),
		})
	}
	return out, nil
}
