// Package document implements the canonical store on MongoDB. Every write
// operation dials its own client so that a store outage is observed at the
// call that hits it, not at startup.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/labforge/sample-ingest/internal/classify"
	"github.com/labforge/sample-ingest/internal/stores"
	"github.com/labforge/sample-ingest/internal/types"
)

const (
	collectionSamples      = "samples"
	collectionSourcePlates = "source_plates"
	collectionImports      = "imports"
	collectionCentres      = "centres"
)

const duplicateKeyCode = 11000

var _ stores.Canonical = (*Store)(nil)

// Store holds the connection parameters of the canonical MongoDB database.
// Constructing a Store performs no I/O.
type Store struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// New builds a store for the given connection string and database name
func New(uri, database string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{URI: uri, Database: database, Timeout: timeout}
}

// connect dials a fresh client for one operation. Failures wrap
// stores.ErrUnavailable so callers can classify them.
func (s *Store) connect(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.URI).SetConnectTimeout(s.Timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	return client, client.Database(s.Database), nil
}

// sampleIndexes returns the index set of the samples collection: the
// unique signature index plus the lookup indexes queries rely on.
func sampleIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "root_sample_id", Value: 1},
				{Key: "rna_id", Value: 1},
				{Key: "result", Value: 1},
				{Key: "lab_id", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("sample_signature"),
		},
		{Keys: bson.D{{Key: "plate_barcode", Value: 1}}, Options: options.Index().SetName("plate_barcode")},
		{Keys: bson.D{{Key: "result", Value: 1}}, Options: options.Index().SetName("result")},
		{Keys: bson.D{{Key: "sample_uuid", Value: 1}}, Options: options.Index().SetSparse(true).SetName("sample_uuid")},
		{Keys: bson.D{{Key: "source_plate_uuid", Value: 1}}, Options: options.Index().SetName("source_plate_uuid")},
		{Keys: bson.D{{Key: "filtered_positive", Value: 1}}, Options: options.Index().SetName("filtered_positive")},
	}
}

// sourcePlateIndexes returns the index set of the source_plates
// collection: barcode and plate uuid are both unique.
func sourcePlateIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "barcode", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("source_plate_barcode"),
		},
		{
			Keys:    bson.D{{Key: "uuid", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("source_plate_uuid"),
		},
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes the pipeline
// relies on. Safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	client, db, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	if _, err := db.Collection(collectionSamples).Indexes().CreateMany(ctx, sampleIndexes()); err != nil {
		return fmt.Errorf("creating sample indexes: %w", err)
	}

	if _, err := db.Collection(collectionSourcePlates).Indexes().CreateMany(ctx, sourcePlateIndexes()); err != nil {
		return fmt.Errorf("creating source plate indexes: %w", err)
	}

	centreIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("centre_name"),
	}
	if _, err := db.Collection(collectionCentres).Indexes().CreateOne(ctx, centreIndex); err != nil {
		return fmt.Errorf("creating centre index: %w", err)
	}
	return nil
}

// EnsureCentres mirrors the built-in centre configuration into the centres
// collection so reporting queries can join on it.
func (s *Store) EnsureCentres(ctx context.Context, names []string) error {
	client, db, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	coll := db.Collection(collectionCentres)
	for _, name := range names {
		filter := bson.M{"name": name}
		update := bson.M{"$setOnInsert": bson.M{"name": name, "created_at": time.Now().UTC()}}
		if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("mirroring centre %s: %w", name, err)
		}
	}
	return nil
}

type sourcePlateDoc struct {
	Barcode   string    `bson:"barcode"`
	UUID      string    `bson:"uuid"`
	LabID     string    `bson:"lab_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// EnsureSourcePlates resolves one source plate document per plate barcode,
// creating missing plates, and stamps each record with its plate's UUID. A
// barcode already claimed by another lab id fails all of that plate's
// records without touching the rest.
func (s *Store) EnsureSourcePlates(ctx context.Context, records []*types.SampleRecord) ([]*types.SampleRecord, []stores.SourcePlateFailure, error) {
	client, db, err := s.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	byBarcode := make(map[string][]*types.SampleRecord)
	var barcodes []string
	for _, record := range records {
		if _, seen := byBarcode[record.PlateBarcode]; !seen {
			barcodes = append(barcodes, record.PlateBarcode)
		}
		byBarcode[record.PlateBarcode] = append(byBarcode[record.PlateBarcode], record)
	}

	coll := db.Collection(collectionSourcePlates)
	var ok []*types.SampleRecord
	var failures []stores.SourcePlateFailure

	for _, barcode := range barcodes {
		group := byBarcode[barcode]
		labID := group[0].LabID

		filter := bson.M{"barcode": barcode}
		update := bson.M{"$setOnInsert": sourcePlateDoc{
			Barcode:   barcode,
			UUID:      uuid.NewString(),
			LabID:     labID,
			CreatedAt: time.Now().UTC(),
		}}
		opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

		var plate sourcePlateDoc
		if err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&plate); err != nil {
			failures = append(failures, stores.SourcePlateFailure{Barcode: barcode, Records: group, Err: err})
			continue
		}
		if plate.LabID != labID {
			failures = append(failures, stores.SourcePlateFailure{Barcode: barcode, Conflict: true, Records: group})
			continue
		}
		for _, record := range group {
			record.SourcePlateUUID = plate.UUID
		}
		ok = append(ok, group...)
	}

	return ok, failures, nil
}

type channelDoc struct {
	Target *string               `bson:"target,omitempty"`
	Result *string               `bson:"result,omitempty"`
	Cq     *primitive.Decimal128 `bson:"cq,omitempty"`
}

type sampleDoc struct {
	ID              primitive.ObjectID `bson:"_id"`
	SampleUUID      string             `bson:"sample_uuid"`
	RootSampleID    string             `bson:"root_sample_id"`
	ViralPrepID     string             `bson:"viral_prep_id,omitempty"`
	RNAID           string             `bson:"rna_id"`
	RNAPCRID        string             `bson:"rna_pcr_id,omitempty"`
	Result          string             `bson:"result"`
	DateTested      *time.Time         `bson:"date_tested,omitempty"`
	LabID           string             `bson:"lab_id,omitempty"`
	PlateBarcode    string             `bson:"plate_barcode"`
	Coordinate      string             `bson:"coordinate"`
	Source          string             `bson:"source"`
	SourceFile      string             `bson:"source_file"`
	FileDate        *time.Time         `bson:"file_date,omitempty"`
	Line            int                `bson:"line"`
	SourcePlateUUID string             `bson:"source_plate_uuid,omitempty"`

	FilteredPositive        bool      `bson:"filtered_positive"`
	FilteredPositiveVersion string    `bson:"filtered_positive_version"`
	FilteredPositiveAt      time.Time `bson:"filtered_positive_at"`

	MustSequence           bool `bson:"must_sequence"`
	PreferentiallySequence bool `bson:"preferentially_sequence"`

	Channels []channelDoc `bson:"channels,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toDoc(record *types.SampleRecord) (sampleDoc, error) {
	doc := sampleDoc{
		ID:              primitive.NewObjectID(),
		SampleUUID:      record.SampleUUID.String(),
		RootSampleID:    record.RootSampleID,
		ViralPrepID:     record.ViralPrepID,
		RNAID:           record.RNAID,
		RNAPCRID:        record.RNAPCRID,
		Result:          string(record.Result),
		DateTested:      record.DateTested,
		LabID:           record.LabID,
		PlateBarcode:    record.PlateBarcode,
		Coordinate:      record.Coordinate,
		Source:          record.Source,
		SourceFile:      record.SourceFile,
		FileDate:        record.FileDate,
		Line:            record.Line,
		SourcePlateUUID: record.SourcePlateUUID,

		FilteredPositive:        record.FilteredPositive,
		FilteredPositiveVersion: record.FilteredPositiveVersion,
		FilteredPositiveAt:      record.FilteredPositiveAt,

		MustSequence:           record.MustSequence,
		PreferentiallySequence: record.PreferentiallySequence,

		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}

	for _, ch := range record.Channels {
		if ch.Target == nil && ch.Result == nil && ch.Cq == nil {
			doc.Channels = append(doc.Channels, channelDoc{})
			continue
		}
		cd := channelDoc{Target: ch.Target, Result: ch.Result}
		if ch.Cq != nil {
			dec, err := primitive.ParseDecimal128(ch.Cq.String())
			if err != nil {
				return doc, fmt.Errorf("encoding cq %s: %w", ch.Cq, err)
			}
			cd.Cq = &dec
		}
		doc.Channels = append(doc.Channels, cd)
	}

	return doc, nil
}

// InsertSamples bulk-inserts the file's records unordered. Signature
// collisions with previously stored samples come back as Duplicates with
// the stored test date; everything else is inserted and given its
// canonical id.
func (s *Store) InsertSamples(ctx context.Context, records []*types.SampleRecord) (*stores.InsertOutcome, error) {
	client, db, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	docs := make([]interface{}, 0, len(records))
	ids := make([]primitive.ObjectID, 0, len(records))
	for _, record := range records {
		doc, err := toDoc(record)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}

	coll := db.Collection(collectionSamples)
	_, insertErr := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))

	refused := make(map[int]struct{})
	if insertErr != nil {
		var bulkErr mongo.BulkWriteException
		if !errors.As(insertErr, &bulkErr) {
			return nil, fmt.Errorf("inserting samples: %w", insertErr)
		}
		for _, writeErr := range bulkErr.WriteErrors {
			if writeErr.Code != duplicateKeyCode {
				return nil, fmt.Errorf("inserting samples: %w", insertErr)
			}
			refused[writeErr.Index] = struct{}{}
		}
	}

	outcome := &stores.InsertOutcome{}
	for i, record := range records {
		if _, dup := refused[i]; !dup {
			record.CanonicalID = ids[i].Hex()
			outcome.Inserted = append(outcome.Inserted, record)
			continue
		}
		existing, err := s.existingDateTested(ctx, coll, record)
		if err != nil {
			return nil, err
		}
		outcome.Duplicates = append(outcome.Duplicates, stores.Duplicate{Record: record, ExistingDateTested: existing})
	}

	return outcome, nil
}

// existingDateTested fetches the stored test date of the sample a record
// collided with.
func (s *Store) existingDateTested(ctx context.Context, coll *mongo.Collection, record *types.SampleRecord) (*time.Time, error) {
	sig := record.Signature()
	filter := bson.M{
		"root_sample_id": sig.RootSampleID,
		"rna_id":         sig.RNAID,
		"result":         sig.Result,
		"lab_id":         sig.LabID,
	}

	var doc struct {
		DateTested *time.Time `bson:"date_tested"`
	}
	err := coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"date_tested": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up duplicate %s: %w", sig, err)
	}
	return doc.DateTested, nil
}

// CreateImport persists the import record for one processed file
func (s *Store) CreateImport(ctx context.Context, record *types.ImportRecord) error {
	client, db, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	doc := bson.M{
		"centre_name":       record.CentreName,
		"csv_file_used":     record.FileName,
		"date":              record.Date,
		"number_of_records": record.NumberOfRecords,
		"errors":            record.Errors,
	}
	if _, err := db.Collection(collectionImports).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("creating import record: %w", err)
	}
	return nil
}

// Reclassify re-runs the filtered-positive rule over every stored sample
// and rewrites the verdict fields of those whose verdict changed. It
// returns the number of updated documents.
func (s *Store) Reclassify(ctx context.Context, classifier classify.Classifier, now time.Time) (int64, error) {
	client, db, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	coll := db.Collection(collectionSamples)
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("listing samples: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var updated int64
	var batch []mongo.WriteModel

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := coll.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return fmt.Errorf("rewriting verdicts: %w", err)
		}
		updated += result.ModifiedCount
		batch = batch[:0]
		return nil
	}

	for cursor.Next(ctx) {
		var doc sampleDoc
		if err := cursor.Decode(&doc); err != nil {
			return updated, fmt.Errorf("decoding sample: %w", err)
		}

		record := fromDoc(&doc)
		verdict := classifier.IsFilteredPositive(record)
		if verdict == doc.FilteredPositive && string(classifier.Version()) == doc.FilteredPositiveVersion {
			continue
		}

		update := mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetUpdate(bson.M{"$set": bson.M{
				"filtered_positive":         verdict,
				"filtered_positive_version": string(classifier.Version()),
				"filtered_positive_at":      now,
				"updated_at":                now,
			}})
		batch = append(batch, update)

		if len(batch) >= 500 {
			if err := flush(); err != nil {
				return updated, err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return updated, fmt.Errorf("iterating samples: %w", err)
	}
	return updated, flush()
}

// fromDoc rebuilds just enough of a record for the classifier: result,
// root sample id, and the channel Cq values.
func fromDoc(doc *sampleDoc) *types.SampleRecord {
	record := &types.SampleRecord{
		RootSampleID: doc.RootSampleID,
		RNAID:        doc.RNAID,
		Result:       types.Result(doc.Result),
		LabID:        doc.LabID,
	}
	for i, ch := range doc.Channels {
		if i >= types.ChannelCount {
			break
		}
		record.Channels[i].Target = ch.Target
		record.Channels[i].Result = ch.Result
		if ch.Cq != nil {
			if dec, err := decimalFrom128(*ch.Cq); err == nil {
				record.Channels[i].Cq = dec
			}
		}
	}
	return record
}

func decimalFrom128(d primitive.Decimal128) (*decimal.Decimal, error) {
	dec, err := decimal.NewFromString(d.String())
	if err != nil {
		return nil, err
	}
	return &dec, nil
}
