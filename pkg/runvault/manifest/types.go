package manifest

// Entry records one archived file: the container it was packed into, its path
// relative to the run root, and the checksum of the content that was packed.
// Entries are immutable once written; re-publishing an item replaces its entry.
type Entry struct {
	Container string
	ItemPath  string
	Checksum  string
}
