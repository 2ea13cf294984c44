/*
Package ownerwatch multiplexes interest in bus-service ownership changes.
Any number of callers may watch the same service name through one Registry;
the Registry keeps exactly one match rule installed per watched name, fans a
single ownership-loss notification out to every registered callback, and
tears bus-level state down when the last caller unregisters.
*/
package ownerwatch
