// Package rundown holds the playout data model and its persistence.
//
// Scripted content (Rundown, Segment, Part, Piece) is written by ingest and
// only read during playout. Playback state lives in the Playlist and in the
// ephemeral PartInstance and PieceInstance copies created as parts are
// nexted and taken.
//
// The Store interface reads collections wholesale and replaces or deletes
// whole documents; no caller relies on partial updates. SQLiteStore keeps
// each document as JSON beside its indexed keys. MemoryStore backs tests.
//
// Previous, current and next are addressed through the PartRef enum and
// resolved by Playlist.PartInfo only.
package rundown
