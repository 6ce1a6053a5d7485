package semantic

// Payload field names. The collection schema is fixed: title, text, and
// the stable external document ID. Changing the set means destroying and
// rebuilding the collection.
const (
	FieldTitle = "title"
	FieldText  = "text"
	FieldDocID = "original_doc_id"
)

// DocumentRecord is a corpus document with its externally computed vector,
// owned by the writer until handed to the index.
type DocumentRecord struct {
	DocID  string
	Title  string
	Text   string
	Vector []float32
}

// Hit is a single nearest-neighbor match. DocID is empty when the stored
// point lacks the stable ID field; callers drop such hits.
type Hit struct {
	DocID string
	Score float32
}
