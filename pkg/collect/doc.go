/*
Package collect pins the Collector contract every source-specific
dataset collector implements. Fetching a remote archive over HTTP is
an external collaborator concern this module does not implement;
LocalCollector is the test double used to drive the pipeline end to
end against fixture files already sitting on disk.
*/
package collect
