// Package pipeline drives one upload run end to end: authenticate
// eagerly, split the source into size-bounded chunks, push each chunk
// in sequence under the retry policy, and relocate delivered chunks
// into the run's delivered area.
//
// Failure scope follows the data: problems local to one chunk (a
// gateway rejection that survives the retry budget) are logged and
// counted, and the run moves on. Problems in shared ground, meaning
// credentials, initial authentication, the source file, or local
// bookkeeping, abort the whole run.
package pipeline
