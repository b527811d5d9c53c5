/*
Package memogram moves messages of arbitrary size,
memos, over transports that only move size-bounded
datagrams, grams.

The split is deliberate: memos are the application's
unit of meaning, grams are the wire's unit of delivery.
A MemoGram engine segments each outgoing memo into grams
that fit its Transport's bound, feeds them through a
single in-flight transmit slot, and reassembles incoming
grams back into memos, keeping per-source arrival order
fair with an insertion-ordered source map.

Nothing here blocks. Every Transport operation returns
immediately with whatever was available, and every
engine operation comes in a non-greedy form (one step,
for embedding in a cooperative scheduler that ticks many
components) and a greedy form (drain everything
pending). Backpressure is a boolean: a service pass
reports whether more work remains, never waits for it.

Transports included: UDPGram (plain UDP), UXDGram
(unix-domain datagrams), QUICGram (unreliable QUIC
DATAGRAM frames, so the grams arrive encrypted), and
SimGram (deterministic in-memory, for tests).

Segmentation is pluggable through the Gramer interface.
Rawgram is the trivial one-memo-one-gram codec for
transports whose bound exceeds every memo. Fragmenter is
the production codec: whole-memo compression (s2, lz4,
or zstd), a 64 byte header carrying a random memo id,
fragment index/total, and a blake3 checksum verified on
reassembly.

Delivery is best effort, exactly as the underlying
datagrams are. Grams to unreachable peers are logged and
dropped so one dead destination cannot stall the rest;
anything stronger (retries, acknowledgements) belongs in
a layer above, and Tymee provides the clock seam to hang
it on.

On UDP sizing: the theoretical maximum payload is 65507
bytes, but the only size guaranteed to traverse
arbitrary ipv4 routes intact is 508 bytes
(MaxSafeGramSizeUDP). On a LAN or loopback the full
bound is fine. See the constants in udp.go.
*/
package memogram
