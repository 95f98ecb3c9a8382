// Package prompts holds the instruction templates sent to the model gateway.
// Each prompt asks for strict JSON so the response can be parsed into the
// task's structured result.
package prompts

// VisionContextPrompt asks for one description object per attached image, in
// attachment order.
const VisionContextPrompt = `You are a photo analyst. For EACH attached image, in order, produce one JSON object with these fields:
- "context": two or three sentences describing what is happening in the photo, who or what is present, and the setting.
- "caption": one short title, at most eight words.
- "visual_aspects": an object with "colors" (array of dominant color names), "lighting" (one phrase) and "composition" (one phrase).

Respond with ONLY a JSON array containing exactly one object per attached image, in the same order as the images. No prose, no markdown.`

// VisionTopologyPrompt asks for a region breakdown referencing the overlaid
// rule-of-thirds guidelines.
const VisionTopologyPrompt = `The attached images have red rule-of-thirds guidelines overlaid, dividing each image into nine regions (top-left through bottom-right). For EACH image, in order, produce one JSON object:
- "regions": an object mapping region names ("top-left", "top-center", "top-right", "middle-left", "center", "middle-right", "bottom-left", "bottom-center", "bottom-right") to a short phrase of what occupies that region. Omit empty regions.
- "focal_point": the region name holding the main subject.

Respond with ONLY a JSON array, one object per image, same order. No prose.`

// DetectionPrompt asks for object detections with normalized bounding boxes.
const DetectionPrompt = `For EACH attached image, in order, list the distinct objects you can identify. Produce one JSON object per image:
- "objects": array of {"label": string, "score": number between 0 and 1, "box": {"x": number, "y": number, "w": number, "h": number}} with coordinates normalized to [0,1] from the top-left corner.

Respond with ONLY a JSON array, one object per image, same order. No prose.`

// TagsPrompt derives category tags from previously generated descriptions.
// Takes no images; the photo descriptions are inlined in the user content.
const TagsPrompt = `You are given photo descriptions, one per line, each prefixed by its index. For EACH description, in index order, produce one JSON object:
- "subjects": array of 1-5 lowercase tags naming people, animals or objects.
- "scene": array of 1-3 lowercase tags for the setting (e.g. "beach", "indoor", "city").
- "mood": array of 0-2 lowercase tags for the emotional tone.

Respond with ONLY a JSON array, one object per description, in index order. No prose.`

// ChunksPrompt splits a context description into retrieval-sized segments.
const ChunksPrompt = `Split each of the given photo descriptions into self-contained segments of one or two sentences each. Each segment must be understandable on its own. For EACH description, in index order, produce one JSON object:
- "chunks": array of segment strings, in reading order.

Respond with ONLY a JSON array, one object per description, in index order. No prose.`

// MetadataPrompt normalizes raw capture metadata into structured fields.
const MetadataPrompt = `You are given raw photo metadata lines, one photo per line, each prefixed by its index (filename, format, dimensions, capture date if known). For EACH line, in index order, produce one JSON object:
- "season": one of "spring", "summer", "autumn", "winter" or "" if unknown.
- "time_of_day": one of "morning", "afternoon", "evening", "night" or "".
- "orientation": "landscape", "portrait" or "square" from the dimensions.
- "decade": e.g. "2010s", or "" if the date is unknown.

Respond with ONLY a JSON array, one object per line, in index order. No prose.`
