package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"net"
)

// acceptGUID is the fixed RFC 6455 magic string concatenated onto the
// client's Sec-WebSocket-Key before hashing (§4 GLOSSARY).
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes Sec-WebSocket-Accept from the client's
// Sec-WebSocket-Key, grounded on the teacher's generateAcceptKey in ws.go
// and original_source/src/http-util.c's sha1/base64 helpers.
func AcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WriteHandshakeResponse sends the 101 Switching Protocols response that
// completes the upgrade (§4.7). The caller has already verified the request
// headers (Upgrade: websocket, Connection containing "upgrade") before
// calling this. clientKey is not validated; Sec-WebSocket-Accept is sent
// only when clientKey is non-empty.
func WriteHandshakeResponse(conn net.Conn, clientKey string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n"
	if clientKey != "" {
		resp += "Sec-WebSocket-Accept: " + AcceptKey(clientKey) + "\r\n"
	}
	return writeAll(conn, []byte(resp+"\r\n"))
}
