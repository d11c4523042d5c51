// Package model defines the C2M2 entities persisted in the document store.
// Every record carries a `submission` tag identifying the DCC ingestion batch
// that produced it; controlled-vocabulary ids are only unique per submission.
package model

// Store collection names, one per entity type.
const (
	CollFile                  = "file"
	CollDCC                   = "dcc"
	CollCollection            = "collection"
	CollBiosample             = "biosample"
	CollFileFormat            = "file_format"
	CollDataType              = "data_type"
	CollAssayType             = "assay_type"
	CollAnatomy               = "anatomy"
	CollFileInCollection      = "file_in_collection"
	CollBiosampleInCollection = "biosample_in_collection"
	CollLocks                 = "locks"
)

// FieldSubmission stamps every ingested row with the DCC batch that
// produced it; cutover scopes its deletes by this field.
const FieldSubmission = "submission"

// EntityCollections lists the collections replaced during a sync cutover.
var EntityCollections = []string{
	CollFile, CollDCC, CollCollection, CollBiosample,
	CollFileFormat, CollDataType, CollAssayType, CollAnatomy,
	CollFileInCollection, CollBiosampleInCollection,
}

// File is a stable digital asset. Composite primary key
// (id_namespace, local_id); foreign keys resolve within the same submission.
// The streaming gateway decodes file lookups into this record; the query
// side works on raw documents shaped by its projection.
type File struct {
	IDNamespace                 string `bson:"id_namespace" json:"id_namespace"`
	LocalID                     string `bson:"local_id" json:"local_id"`
	ProjectIDNamespace          string `bson:"project_id_namespace" json:"project_id_namespace"`
	ProjectLocalID              string `bson:"project_local_id" json:"project_local_id"`
	PersistentID                string `bson:"persistent_id,omitempty" json:"persistent_id,omitempty"`
	CreationTime                string `bson:"creation_time,omitempty" json:"creation_time,omitempty"`
	SizeInBytes                 *int64 `bson:"size_in_bytes,omitempty" json:"size_in_bytes,omitempty"`
	SHA256                      string `bson:"sha256,omitempty" json:"sha256,omitempty"`
	MD5                         string `bson:"md5,omitempty" json:"md5,omitempty"`
	Filename                    string `bson:"filename" json:"filename"`
	FileFormat                  string `bson:"file_format,omitempty" json:"file_format,omitempty"`
	CompressionFormat           string `bson:"compression_format,omitempty" json:"compression_format,omitempty"`
	DataType                    string `bson:"data_type,omitempty" json:"data_type,omitempty"`
	AssayType                   string `bson:"assay_type,omitempty" json:"assay_type,omitempty"`
	AnalysisType                string `bson:"analysis_type,omitempty" json:"analysis_type,omitempty"`
	MimeType                    string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	BundleCollectionIDNamespace string `bson:"bundle_collection_id_namespace,omitempty" json:"bundle_collection_id_namespace,omitempty"`
	BundleCollectionLocalID     string `bson:"bundle_collection_local_id,omitempty" json:"bundle_collection_local_id,omitempty"`
	DbgapStudyID                string `bson:"dbgap_study_id,omitempty" json:"dbgap_study_id,omitempty"`
	AccessURL                   string `bson:"access_url,omitempty" json:"access_url,omitempty"`
	Status                      string `bson:"status,omitempty" json:"status,omitempty"`
	DataAccessLevel             string `bson:"data_access_level,omitempty" json:"data_access_level,omitempty"`
	Submission                  string `bson:"submission" json:"submission"`
}

// DCC is a Common Fund program or Data Coordinating Center, unique per
// submission.
type DCC struct {
	ID                 string `bson:"id" json:"id"`
	DCCName            string `bson:"dcc_name" json:"dcc_name"`
	DCCAbbreviation    string `bson:"dcc_abbreviation" json:"dcc_abbreviation"`
	DCCDescription     string `bson:"dcc_description,omitempty" json:"dcc_description,omitempty"`
	ContactEmail       string `bson:"contact_email" json:"contact_email"`
	ContactName        string `bson:"contact_name" json:"contact_name"`
	DCCURL             string `bson:"dcc_url" json:"dcc_url"`
	ProjectIDNamespace string `bson:"project_id_namespace" json:"project_id_namespace"`
	ProjectLocalID     string `bson:"project_local_id" json:"project_local_id"`
	Submission         string `bson:"submission" json:"submission"`
}
