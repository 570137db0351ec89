// Created by WINK Streaming (https://www.wink.co)
package protocol

// FrameBufferSize bounds a single decoded JPEG frame, mirroring
// FRAME_BUFFER_SIZE in _examples/original_source/client/rtp_client.h
// (512KB, enough for full-HD stills). It sizes the container's
// oversized-frame guard. The jitter buffer does not pre-allocate slots
// and the client's UDP receive buffer is a separate 64KB buffer.
const FrameBufferSize = 512 * 1024

// NominalFPS is the fixed wall-clock playback rate spec.md §4.1
// prescribes; time-to-frame conversion is floor(t * NominalFPS).
const NominalFPS = 20

// JitterCapacity is the fixed jitter-buffer slot count (spec.md §4.8).
const JitterCapacity = 20

// PrebufferThreshold is the frame count that flips JitterBuffer out of
// the initial buffering state (spec.md §4.8).
const PrebufferThreshold = 3
