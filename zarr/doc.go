/*
	Package zarr reads Zarr v2 chunked hierarchical stores held in any gocloud bucket.

	A Store is opened on a bucket and key prefix.  Groups and arrays are addressed by
	slash-separated paths relative to the store root.  Arrays are read by N-dimensional
	half-open ranges; the chunks intersecting a range are fetched concurrently, decoded
	and assembled into a little-endian C-order planar.Array.

	Supported codecs: zlib, gzip, zstd, lz4, bz2 and blosc (lz4, snappy, zlib and zstd
	inner compressors with byte shuffle).  Filters and Fortran order are not supported.
*/
package zarr
