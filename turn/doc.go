// Package turn decides when a model utterance has finished playing out to
// the caller.
//
// After the model signals the end of a generation, the orchestrator calls
// Synchronizer.WaitForDelivery. The wait first polls until the pacer queue
// and staging buffer are empty, bounded by a hard ceiling, then waits for
// the pacer's drained Signal bounded by a timeout derived from the number
// of bytes in the utterance. Only the first phase can fail.
package turn
