/*
Package s3 adapts the AWS SDK to the object client used by the block layer.

Client implements types.ObjectClient with two calls:

	HeadObject  resolves content length, entity tag and modification time
	GetObject   streams one inclusive byte range ("bytes=start-end")

Range reads pin the object version with If-Match on the entity tag observed
at open time, so a reader never mixes bytes from two versions. Every range
request carries a Referer header identifying the range, the read mode and
the stream that asked for it:

	Referer: bytes=0-8388607,SYNC,6f1c2d1e-...

# Errors

SDK failures are translated onto pkg/errors codes:

	NoSuchKey, NotFound, 404       OBJECT_NOT_FOUND
	PreconditionFailed, 412        OBJECT_NOT_FOUND (version changed)
	AccessDenied, Forbidden, 403   ACCESS_DENIED
	InvalidRange, 416              VALIDATION_FAILED
	context cancellation           OPERATION_CANCELED / OPERATION_TIMEOUT
	anything else                  NETWORK_ERROR

The block layer retries NETWORK_ERROR and timeouts and gives up immediately
on the rest.

# Configuration

Load builds a client from config.S3Config using the default AWS credential
chain, or static keys when access_key_id is set. Endpoint and path-style
overrides support MinIO, LocalStack and other S3-compatible stores:

	s3:
	  region: us-east-1
	  endpoint: http://localhost:9000
	  force_path_style: true
	  max_retries: 3
	  request_timeout: 60s

# Testing

Tests substitute the API interface, the subset of *s3.Client the package
calls, or point a real SDK client at an httptest server.
*/
package s3
