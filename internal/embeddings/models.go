package embeddings

// fastEmbedDimensions lists the models fastembed-go can load.
var fastEmbedDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// FastEmbedDimension returns the vector size of a fastembed model.
func FastEmbedDimension(model string) (int, bool) {
	dim, ok := fastEmbedDimensions[model]
	return dim, ok
}
