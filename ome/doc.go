/*
	Package ome handles microscopy metadata for chunked stores: the OME-XML document
	model, synthesis of a minimal OME-XML document from store structure when no
	authoritative document exists, and the NGFF plate and well descriptors used to map
	series onto high-content-screening well layouts.
*/
package ome
