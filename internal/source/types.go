package source

type (
	// FileID uniquely identifies an IR text file within a FileSet.
	FileID uint32
	// FileFlags records how the content was obtained.
	FileFlags uint8
)

const (
	// FileVirtual marks content added from memory (stdin, tests, generated IR).
	FileVirtual FileFlags = 1 << iota
	FileHadBOM
	FileNormalizedCRLF
)

// File holds the content of one IR module as read from disk.
type File struct {
	ID      FileID
	Path    string
	Content []byte
	LineIdx []uint32
	Hash    [32]byte
	Flags   FileFlags
}

// LineCol is a human-readable position.
type LineCol struct {
	Line uint32 // 1-based
	Col  uint32 // 1-based
}
