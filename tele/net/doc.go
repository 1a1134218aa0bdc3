// Telemetry transport between satellite and ground.
//
// Satellite runs Downlink: accepts one ground client at a time and pushes
// frames at fixed cadence. Ground runs Link: locates satellite, connects,
// reads fixed size frames, publishes latest tele.State.
//
// Wire is raw concatenation of frame.Size byte frames. There is no header,
// sequence number or checksum, so any short or extra byte desynchronizes the
// stream. Reader never tries to resync mid-stream, it drops connection and
// starts over from locate.
package telenet
