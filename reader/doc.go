/*
	Package reader defines the contract between image format readers and the rest of
	the system, the registry of formats available in a process, and the selection of
	the best format for a resource.

	A Format scores how suitable it is for a resource and opens Readers.  Scores are
	ordinal: -1 means the format cannot read the resource, 1 means it is the only format
	that should, and 2 through 5 grade decreasing suitability.  Selection returns the
	first format scoring 1, else the lowest-scoring format, ties going to the format
	registered first.
*/
package reader
