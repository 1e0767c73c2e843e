package ember

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// fsChunkSize matches the original's 128-byte streaming buffer exactly
// (§12 supplemented features).
const fsChunkSize = 128

// etagLen is the fixed width of the ".hs" sidecar's hex digest.
const etagLen = 40

var mimeTable = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "text/javascript",
	"png":  "image/png",
	"svg":  "image/svg+xml",
	"json": "application/json",
}

// mimeType looks up the MIME type by file extension, defaulting to
// text/plain (grounded on original_source/src/http-server-cgi.c's
// get_mime_type / mime_tab).
func mimeType(path string) string {
	ext := filepath.Ext(path)
	ext = strings.TrimPrefix(ext, ".")
	if t, ok := mimeTable[ext]; ok {
		return t
	}
	return "text/plain"
}

// fsState is the continuation stashed in handler_state between the
// open-and-headers tick and each subsequent streaming tick.
type fsState struct {
	file *os.File
}

// FileServer returns a handler implementing the filesystem CGI-like
// contract: the first invocation opens the file and writes headers
// (returning More), and each following invocation streams one
// fsChunkSize-byte buffer until a short read signals EOF, at which point
// it closes the descriptor and returns Done (§12). Route arg, if a
// non-empty string, overrides the request path as the file to serve —
// the Go equivalent of the original's optional cgi_arg — otherwise the
// request path is resolved under root.
func FileServer(root string) HTTPHandler {
	return func(c *Conn) Outcome {
		if c.Method() != MethodGET {
			return NotFound
		}
		if c.handlerState == nil {
			return beginFSResponse(c, root)
		}
		return continueFSResponse(c)
	}
}

func beginFSResponse(c *Conn, root string) Outcome {
	base := c.path
	if arg, ok := c.handlerArg.(string); ok && arg != "" {
		base = arg
	}
	filename := filepath.Join(root, filepath.Clean("/"+base))

	if etag, ok := readETag(filename); ok && etag == c.ifNoneMatch {
		_ = c.BeginResponse(StatusNotModified, "")
		_ = c.WriteHeader("Cache-Control", "max-age=3600, must-revalidate")
		_ = c.WriteHeader("ETag", `"`+etag+`"`)
		_ = c.SetContentLength(0)
		_ = c.EndHeader()
		_ = c.EndBody()
		return Done
	}

	gzipped := false
	f, err := openServable(c, filename, &gzipped)
	if err != nil {
		return NotFound
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return NotFound
	}

	_ = c.BeginResponse(StatusOK, mimeType(filename))
	_ = c.WriteHeader("Cache-Control", "max-age=3600, must-revalidate")
	_ = c.SetContentLength(info.Size())
	if gzipped {
		_ = c.WriteHeader("Content-Encoding", "gzip")
	}
	if etag, ok := readETag(filename); ok {
		_ = c.WriteHeader("ETag", `"`+etag+`"`)
	}
	_ = c.EndHeader()

	c.handlerState = &fsState{file: f}
	return More
}

// openServable tries the gzip sidecar first when the client advertised
// Accept-Encoding: gzip, falling back to the plain file (§12).
func openServable(c *Conn, filename string, gzipped *bool) (*os.File, error) {
	if c.flags.has(FlagAcceptGzip) {
		if f, err := os.Open(filename + ".gz"); err == nil {
			*gzipped = true
			return f, nil
		}
	}
	return os.Open(filename)
}

// readETag reads the ".hs" sidecar and returns its 40-hex-character
// contents, or ok=false if the sidecar is absent or the wrong length.
func readETag(filename string) (string, bool) {
	f, err := os.Open(filename + ".hs")
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, etagLen)
	n, err := io.ReadFull(f, buf)
	if err != nil || n != etagLen {
		return "", false
	}
	return string(buf), true
}

func continueFSResponse(c *Conn) Outcome {
	st := c.handlerState.(*fsState)

	var buf [fsChunkSize]byte
	n, err := st.file.Read(buf[:])
	if n > 0 {
		_ = c.Write(buf[:n])
	}
	if n < fsChunkSize || err == io.EOF {
		_ = c.EndBody()
		st.file.Close()
		c.handlerState = nil
		return Done
	}
	return More
}
