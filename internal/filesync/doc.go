// Package filesync keeps remote mirrors consistent with a file registry.
//
// An Authority serves the registry over a websocket. It pushes newFile,
// updateFile and deleteFile events as the registry changes and answers
// mirror requests (handshake, readFile, saveFile, createFile, openFile,
// getFileGraph, getBundle).
//
// A Mirror is the client side: a cache of {filename, content, digest}
// entries kept current by the pushed events. Its Online value turns true
// once the handshake completes and false on disconnect; while offline every
// request fails at once with errors.ErrOffline.
//
// Messages are JSON envelopes:
//
//	{"event":"readFile","id":3,"data":["/a.js"]}   request, expects an ack
//	{"ack":3,"data":{...}}                          reply
//	{"event":"updateFile","data":{...}}             event
//
// Events on a connection are handled in arrival order.
package filesync
