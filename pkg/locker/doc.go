// Package locker serializes work on the same billing entity.
//
// Memory is a keyed mutex for a single process. Redis uses SET NX PX with a
// random token and releases through a compare-and-delete Lua script, so a
// holder whose key already expired never deletes a lock taken by someone else.
//
//	release, err := l.Lock(ctx, "subscription:"+id.String())
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// Lock blocks until acquired or until ctx is done, in which case the error
// matches ErrNotAcquired.
package locker
