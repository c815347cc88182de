/*
	Package storage resolves resource references into something a reader can open:
	local directories and files, object-storage buckets read in place through gocloud,
	and temporary local copies of remote URLs.

	It also provides a size-bounded cache of raw chunk bytes shared by chunked-store
	readers so repeated plane reads against remote stores avoid refetching.
*/
package storage
