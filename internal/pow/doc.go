// Package pow implements the proof-of-work predicate and the worker side
// search over a leased range.
//
// A candidate n qualifies when the hex SHA-256 digest of seed ++ decimal(n)
// starts with the required number of '0' characters. Engine.Search scans a
// half-open range [start, end) in parallel and stops issuing new work as soon
// as one goroutine finds a qualifying candidate. Chunks already claimed by
// other goroutines run to completion or until they notice the match, so no
// candidate is skipped before a match exists.
//
// Example:
//
//	engine := pow.NewEngine(pow.SHA256Oracle{}, pow.Options{Parallelism: 8})
//	res, err := engine.Search(ctx, uint128.From64(0), uint128.From64(10_000_000), "Crefax", 6)
//	if err != nil {
//	    return err
//	}
//	if res.Match != nil {
//	    fmt.Println(res.Match.Number, res.Match.Digest)
//	}
package pow
