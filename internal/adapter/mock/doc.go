// Package mock provides deterministic stand-ins for the external backends
// the engine talks to: embedding, reranker scoring and answer generation.
//
// Every mock records how often it was called and accepts a ...Func hook
// that replaces the default behaviour:
//
//	gen := mock.NewGenerator()
//	gen.GenerateFunc = func(ctx context.Context, msgs []domain.Message) (string, error) {
//	    return "", errors.New("backend down")
//	}
//	...
//	assert.Equal(t, 0, gen.CallCount())
//
// # Default Behavior
//
//   - EmbeddingBackend: hashes each term into a bucket of a unit vector, so
//     texts sharing words land close together
//   - Generator: answers with the first numbered context passage it was given
//   - Scorer: scores candidates by how many query words they contain
package mock
