package packfs

import "strings"

// MaxDirectorySize is the maximum number of children a directory may hold,
// spec §3.3 I5 / §4.5.7.
const MaxDirectorySize = 6

// isValidChildName reports whether name is acceptable as a directory
// child's basename: not empty, not "/", ".", "..", and not pure
// whitespace. Grounded on original_source/src/myfs.cpp's
// MyFs::addFileToDirectory name check.
func isValidChildName(name string) bool {
	if name == "" || name == "/" || name == "." || name == ".." {
		return false
	}
	return strings.TrimSpace(name) != ""
}

// decodeChildren parses a directory's content into its child basenames,
// one per line (LF-separated), per spec §4.5.7.
func decodeChildren(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	var children []string
	for _, line := range strings.Split(string(content), "\n") {
		if line == "" {
			continue
		}
		children = append(children, line)
	}
	return children
}

// encodeChildren joins child basenames with LF, trimming trailing
// whitespace from the result, per spec §4.5.7.
func encodeChildren(children []string) []byte {
	joined := strings.Join(children, "\n")
	return []byte(strings.TrimRight(joined, " \t\n\r\v\f"))
}
