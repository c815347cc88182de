/*
	Package planar holds the core types shared by every reader: leveled logging, the error
	taxonomy surfaced to callers, pixel data types, and the N-dimensional Array returned by
	plane reads.

	A plane read resolves a (channel, z, time, series) coordinate into a 2-D (or channel-last
	3-D) Array.  Readers live in the format packages and are chosen through the reader package.
*/
package planar
