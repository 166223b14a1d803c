// Package v1 defines the CampusConnect chat wire contract.
//
// Client -> server frames are flat JSON objects discriminated by "type"
// ("join", "message"). The server -> client broadcast is the "newMessage"
// envelope whose payload mirrors the chat history row shape.
//
// This package is dependency-light so clients and tools can import it
// without pulling in the server runtime.
package v1
