/*
Package cache provides the compile cache shared by every runtime instance.

Units are keyed by Fingerprint, a content hash of the script source plus the
flags that change how it compiles. The cache is LRU-bounded by entry count
and, optionally, by approximate compiled size.

Concurrent first use of a fingerprint compiles once; other callers wait on
the in-flight compile, or with Options.NoWait compile their own uncached
copy. A failed compile is returned to every waiter and never stored.

Units returned from Get and GetOrCompile are pinned. Eviction only drops the
cache's reference, so a pinned unit stays valid for the execution that holds
it; Unpin when the execution ends.
*/
package cache
