// internal/acquire/script.go
package acquire

import jsoniter "github.com/json-iterator/go"

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

// canvasExtractionJS locates the <img> by source, waits for its load
// event when needed, draws it to an off-screen canvas at natural size,
// and encodes a lossy JPEG. It always resolves to a structured outcome;
// a SecurityError marks the canvas as tainted. Substitutions: image
// source literal, load timeout in ms, JPEG quality fraction.
const canvasExtractionJS = `(async () => {
	const src = %s;
	const img = Array.from(document.images).find((el) => el.src === src);
	if (!img) {
		return { ok: false, kind: 'not-found', reason: 'no image element with that source' };
	}
	if (!img.complete || img.naturalWidth === 0) {
		try {
			await new Promise((resolve, reject) => {
				const timer = setTimeout(() => reject(new Error('image load timed out')), %d);
				img.addEventListener('load', () => { clearTimeout(timer); resolve(); }, { once: true });
				img.addEventListener('error', () => { clearTimeout(timer); reject(new Error('image failed to load')); }, { once: true });
			});
		} catch (err) {
			return { ok: false, kind: 'load', reason: String(err.message || err) };
		}
	}
	try {
		const canvas = document.createElement('canvas');
		canvas.width = img.naturalWidth || img.width;
		canvas.height = img.naturalHeight || img.height;
		canvas.getContext('2d').drawImage(img, 0, 0);
		return { ok: true, dataUrl: canvas.toDataURL('image/jpeg', %.2f) };
	} catch (err) {
		const tainted = err.name === 'SecurityError' || String(err.message || '').includes('tainted');
		return { ok: false, kind: tainted ? 'tainted' : 'error', reason: String(err.message || err) };
	}
})()`
